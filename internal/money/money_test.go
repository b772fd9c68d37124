package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"85000", 85000},
		{"4,500", 4500},
		{"1,23,456.49", 123456},
		{"1,23,456.50", 123457},
		{"₹ 5,200", 5200},
		{"Rs.100.5", 101},
		{"-10.5", -11},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
	_, err = Parse("twelve")
	assert.Error(t, err)
}

func TestFromAny(t *testing.T) {
	got, err := FromAny(4500.5)
	require.NoError(t, err)
	assert.Equal(t, Amount(4501), got)

	got, err = FromAny(json.Number("12.49"))
	require.NoError(t, err)
	assert.Equal(t, Amount(12), got)

	got, err = FromAny(int64(7))
	require.NoError(t, err)
	assert.Equal(t, Amount(7), got)

	_, err = FromAny(true)
	assert.Error(t, err)
}

func TestRateOf(t *testing.T) {
	assert.Equal(t, Amount(20000), Rate(500).Of(400000))
	assert.Equal(t, Amount(1), Rate(100).Of(50))   // 0.5 rounds up
	assert.Equal(t, Amount(0), Rate(100).Of(49))   // 0.49 rounds down
	assert.Equal(t, Amount(-1), Rate(100).Of(-50)) // symmetric
	assert.Equal(t, Amount(3120), Rate(400).Of(78000))
}

func TestParseRate(t *testing.T) {
	r, err := ParseRate("12.5%")
	require.NoError(t, err)
	assert.Equal(t, Rate(1250), r)

	r, err = ParseRate("400bp")
	require.NoError(t, err)
	assert.Equal(t, Rate(400), r)

	_, err = ParseRate("0.05")
	assert.Error(t, err)
	assert.Equal(t, "12.5%", Rate(1250).String())
}

func TestRate_UnmarshalYAML(t *testing.T) {
	var v struct {
		Rate Rate `yaml:"rate"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`rate: "30%"`), &v))
	assert.Equal(t, Rate(3000), v.Rate)
}

func TestRounding(t *testing.T) {
	assert.Equal(t, Amount(512350), RoundToMultiple(512345, 10))
	assert.Equal(t, Amount(512340), RoundToMultiple(512344, 10))
	assert.Equal(t, Amount(45600), FloorToMultiple(45699, 100))
	assert.Equal(t, Amount(0), NonNegative(-5))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "₹1,234", Format(1234))
	assert.Equal(t, "-₹700", Format(-700))
	assert.Contains(t, Amount(85000).String(), "₹")
}
