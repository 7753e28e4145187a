package cmd

import (
	"reflect"
	"testing"
)

func TestParseOverrides(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{name: "none", pairs: nil, want: nil},
		{
			name:  "typed values",
			pairs: []string{"model_name=ArcFace", "threshold=0.35", "frame_interval=2", "use_eq=false"},
			want:  map[string]any{"model_name": "ArcFace", "threshold": 0.35, "frame_interval": 2, "use_eq": false},
		},
		{name: "value with equals sign", pairs: []string{"lut_file=a=b.cube"}, want: map[string]any{"lut_file": "a=b.cube"}},
		{name: "empty value", pairs: []string{"lut_file="}, want: map[string]any{"lut_file": ""}},
		{name: "missing separator", pairs: []string{"threshold"}, wantErr: true},
		{name: "missing key", pairs: []string{"=1"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOverrides(tc.pairs)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
