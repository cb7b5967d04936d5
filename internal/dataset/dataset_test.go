package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/slidecrawl/internal/types"
)

func TestRegistry(t *testing.T) {
	require.Equal(t, []string{"activities", "students"}, Names())

	d, err := Get("students")
	require.NoError(t, err)
	require.Equal(t, "code", d.KeyColumn().Name)

	_, err = Get("courses")
	require.ErrorContains(t, err, "activities, students")
}

func TestKeyColumnFirst(t *testing.T) {
	for _, d := range All() {
		require.Equal(t, d.KeyField, d.Columns[0].Source, d.Name)
		_, ok := d.Column(d.RangeColumn)
		require.True(t, ok, d.Name)
		for _, g := range d.ReportGroups {
			_, ok := d.Column(g)
			require.True(t, ok, "%s group %s", d.Name, g)
		}
	}
}

func TestRowMissingKey(t *testing.T) {
	for _, r := range []types.Record{
		{"name": "no key"},
		{"actId": nil, "name": "null"},
		{"actId": "", "name": "empty"},
		{"actId": float64(0), "name": "zero"},
		{"actId": "  ", "name": "blank"},
	} {
		_, err := Activities.Row(r)
		require.ErrorIs(t, err, ErrMissingKey)
	}

	_, err := Students.Row(types.Record{"code": " \t", "name": "blank"})
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestRowNormalizes(t *testing.T) {
	row, err := Activities.Row(types.Record{
		"actId":         float64(42),
		"name":          "Volunteer day",
		"classId":       "",
		"hours":         "1.5",
		"startTime":     float64(1700000000000),
		"endTime":       float64(0),
		"enrollEndTime": "",
		"finishStatus":  "",
	})
	require.NoError(t, err)
	require.Len(t, row, len(Activities.Columns))

	at := func(name string) any {
		for i, c := range Activities.Columns {
			if c.Name == name {
				return row[i]
			}
		}
		t.Fatalf("no column %s", name)
		return nil
	}
	require.Equal(t, int64(42), at("act_id"))
	require.Nil(t, at("class_id"))
	require.Equal(t, 1.5, at("hours"))
	require.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), at("start_time"))
	require.Nil(t, at("end_time"))
	require.Nil(t, at("enroll_end_time"))
	require.Nil(t, at("finish_status"))
	require.Nil(t, at("org_name"))
}

func TestRowCountersDefault(t *testing.T) {
	row, err := Students.Row(types.Record{"code": "2021001", "name": "A", "leaveFailNum": float64(3)})
	require.NoError(t, err)
	n := len(row)
	require.Equal(t, int64(0), row[n-3])
	require.Equal(t, int64(0), row[n-2])
	require.Equal(t, int64(3), row[n-1])
}

func TestRowCoercionFailure(t *testing.T) {
	_, err := Students.Row(types.Record{"code": "2021001", "gender": "male"})
	require.ErrorContains(t, err, "gender")

	_, err = Students.Row(types.Record{"code": "2021001", "classId": 1.5})
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   any
		want any
	}{
		{"text number", Text, float64(2021001), "2021001"},
		{"text blank", Text, "  ", nil},
		{"integer string", Integer, " 7 ", int64(7)},
		{"integer bool", Integer, true, int64(1)},
		{"decimal", Decimal, float64(3.25), 3.25},
		{"counter nil", Counter, nil, int64(0)},
		{"timestamp negative", Timestamp, float64(-5), nil},
		{"timestamp garbage", Timestamp, "soon", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.kind, tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
