package voice_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/snacstream/pkg/voice"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		fallback string
		want     string
		wantErr  bool
	}{
		{name: "empty uses default", in: "", want: "tara"},
		{name: "empty uses fallback", in: "", fallback: "Leo", want: "leo"},
		{name: "case and space", in: "  Mia ", want: "mia"},
		{name: "unknown", in: "gandalf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := voice.Resolve(tt.in, tt.fallback)
			if tt.wantErr {
				if !errors.Is(err, voice.ErrUnknown) {
					t.Fatalf("got %v, want ErrUnknown", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Resolve(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"tarra", "tara"},
		{"zack", "zac"},
		{"lea", "leah"},
		{"jes", "jess"},
		{"xylophone", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := voice.Suggest(tt.in); got != tt.want {
			t.Errorf("Suggest(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnknownErrorMessage(t *testing.T) {
	t.Parallel()

	_, err := voice.Resolve("zack", "")
	var ue *voice.UnknownError
	if !errors.As(err, &ue) {
		t.Fatalf("got %T", err)
	}
	if ue.Suggestion != "zac" {
		t.Errorf("Suggestion = %q", ue.Suggestion)
	}
}

func TestNamesIsCopy(t *testing.T) {
	t.Parallel()

	n := voice.Names()
	n[0] = "changed"
	if voice.Names()[0] != voice.Default {
		t.Error("Names exposes internal slice")
	}
	if !voice.Valid("ZOE") || voice.Valid("bob") {
		t.Error("Valid misreports")
	}
}
