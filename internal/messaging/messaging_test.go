package messaging

import "testing"

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain E164", "+2348012345678", "+2348012345678", false},
		{"whatsapp prefix", "whatsapp:+2348012345678", "+2348012345678", false},
		{"spaces and dashes", "+234 801-234-5678", "+2348012345678", false},
		{"missing plus", "2348012345678", "+2348012345678", false},
		{"too short", "+123", "", true},
		{"letters", "+23480abc5678", "", true},
		{"empty", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalizePhone(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CanonicalizePhone(%q) failed: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("CanonicalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
