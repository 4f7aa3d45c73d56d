package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func loadTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := LoadPolicy("testdata/policy.yaml")
	require.NoError(t, err)
	return p
}

func TestLoadPolicy(t *testing.T) {
	p := loadTestPolicy(t)
	assert.Equal(t, "v1.2.0", p.Version)
	assert.Len(t, p.Segments, 3)
	assert.Nil(t, p.Segments["ENT"].EmployeeRange.Max)
	require.NotNil(t, p.Segments["MM"].SLAHours)
	assert.Equal(t, 8, *p.Segments["MM"].SLAHours)
}

func TestLoadPolicy_JSON(t *testing.T) {
	p, err := LoadPolicy("testdata/policy.json")
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", p.Version)
	assert.Equal(t, "NA", p.Region("US"))
	assert.Equal(t, DefaultQueueID, p.Owner("SMB", "NA"))
}

func TestSegment(t *testing.T) {
	p := loadTestPolicy(t)

	tests := []struct {
		employees *int
		want      string
	}{
		{nil, "SMB"},
		{intp(0), "SMB"},
		{intp(50), "SMB"},
		{intp(51), "MM"},
		{intp(999), "MM"},
		{intp(1000), "ENT"},
		{intp(250000), "ENT"},
		{intp(-3), "SMB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Segment(tt.employees), "employees=%v", tt.employees)
	}
}

func TestSegment_OverlapResolvedByLowerBound(t *testing.T) {
	p, err := ParsePolicy([]byte(`
version: v1.0.0
segments:
  B: {employee_range: [10, 100]}
  A: {employee_range: [0, 20]}
  C: {employee_range: [10, 30]}
`))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.Equal(t, "A", p.Segment(intp(15)))
		assert.Equal(t, "B", p.Segment(intp(25)), "B sorts before C at the same lower bound")
	}
}

func TestRegion(t *testing.T) {
	p := loadTestPolicy(t)

	tests := []struct {
		country string
		want    string
	}{
		{"US", "NA"},
		{"ca", "NA"},
		{" gb ", "EMEA"},
		{"JP", "APAC"},
		{"BR", "NA"},
		{"", "NA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Region(tt.country), "country=%q", tt.country)
	}
}

func TestOwner(t *testing.T) {
	p := loadTestPolicy(t)

	assert.Equal(t, "005000000000MMEMA", p.Owner("MM", "EMEA"))
	assert.Equal(t, "00G000000000DFLTQ", p.Owner("ENT", "APAC"))
}

func TestParsePolicy_Validation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "bad version",
			doc:     "version: '1.0'\nsegments: {SMB: {employee_range: [0, 50]}}",
			wantErr: "must look like v1.2.3",
		},
		{
			name:    "no segments",
			doc:     "version: v1.0.0",
			wantErr: "at least one segment",
		},
		{
			name:    "inverted range",
			doc:     "version: v1.0.0\nsegments: {SMB: {employee_range: [50, 10]}}",
			wantErr: "min 50 exceeds max 10",
		},
		{
			name:    "range needs two values",
			doc:     "version: v1.0.0\nsegments: {SMB: {employee_range: [50]}}",
			wantErr: "employee_range must be",
		},
		{
			name:    "empty owner",
			doc:     "version: v1.0.0\nsegments: {SMB: {employee_range: [0, 1]}}\nowners: {SMB_NA: ''}",
			wantErr: "owner SMB_NA",
		},
		{
			name:    "not yaml",
			doc:     "version: [",
			wantErr: "failed to parse policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsQueue(t *testing.T) {
	assert.True(t, IsQueue("00Gxx0000000001AAA"))
	assert.False(t, IsQueue("005000000000001"))
	assert.False(t, IsQueue(""))
}
