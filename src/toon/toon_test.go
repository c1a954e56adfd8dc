package toon

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type product struct {
	Name  string  `json:"name"`
	Brand string  `json:"brand"`
	Price float64 `json:"price"`
	URL   string  `json:"url,omitempty"`
}

func TestEncodeCollapsesUniformRecords(t *testing.T) {
	out, err := Encode(map[string]any{
		"count": 2,
		"products": []product{
			{Name: "HydraGlow Cream", Brand: "Aqua Labs", Price: 449},
			{Name: "Night Serum, Rich", Brand: "Lumi", Price: 899.5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "count: 2\nproducts[2]{name,brand,price}:\n  HydraGlow Cream,Aqua Labs,449\n  \"Night Serum, Rich\",Lumi,899.5", out)
}

func TestEncodeObjectsAndScalars(t *testing.T) {
	out, err := Encode(map[string]any{
		"success": false,
		"error":   "no image data found",
		"tags":    []string{"glow", "true", ""},
		"meta":    map[string]any{"round": 1, "note": "a: b"},
		"empty":   []int{},
		"nothing": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "empty[0]:\nerror: no image data found\nmeta:\n  note: \"a: b\"\n  round: 1\nnothing: null\nsuccess: false\ntags[3]: glow,\"true\",\"\"", out)
}

func TestEncodeMixedList(t *testing.T) {
	out, err := Encode([]any{
		map[string]any{"a": 1},
		map[string]any{"b": []int{1, 2}},
		"x",
	})
	require.NoError(t, err)
	assert.Equal(t, "[3]:\n  -\n    a: 1\n  -\n    b[2]: 1,2\n  - x", out)
}

type base struct {
	ID string `json:"id,omitempty"`
}

type record struct {
	base
	When  time.Time       `json:"when"`
	Skip  string          `json:"-"`
	Score float64         `json:"score,omitempty"`
	Raw   json.RawMessage `json:"raw"`
}

func TestEncodeFollowsJSONTags(t *testing.T) {
	out, err := Encode(record{
		base: base{ID: "p1"},
		When: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Skip: "hidden",
		Raw:  json.RawMessage(`{"k":[1,2]}`),
	}, WithIndent("\t"))
	require.NoError(t, err)
	assert.Equal(t, "id: p1\nwhen: \"2024-01-02T03:04:05Z\"\nraw:\n\tk[2]: 1,2", out)
}

func TestEncodeDelimiter(t *testing.T) {
	out, err := Encode([]string{"a,b", "c|d"}, WithDelimiter("|"))
	require.NoError(t, err)
	assert.Equal(t, "[2]: a,b|\"c|d\"", out)
}

func TestEncodeRejectsUnsupportedKinds(t *testing.T) {
	_, err := Encode(map[string]any{"f": func() {}})
	assert.ErrorContains(t, err, "unsupported kind func")

	_, err = Encode(make(chan int))
	assert.Error(t, err)
}
