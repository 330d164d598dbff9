package util

import (
	"reflect"
	"testing"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"yes", false, true},
		{" ON ", false, true},
		{"1", false, true},
		{"off", true, false},
		{"No", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		if got := ParseBool(tt.value, tt.def); got != tt.want {
			t.Errorf("ParseBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" http://a.test, ,http://b.test ")
	want := []string{"http://a.test", "http://b.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if SplitList("") != nil {
		t.Error("expected nil for empty input")
	}
}
