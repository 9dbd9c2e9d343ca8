package app

import (
	"strings"
	"testing"

	"chirp/cmd/security/token"
)

func TestLoadTokenHasher(t *testing.T) {
	cases := []struct {
		name      string
		require   bool
		key       string
		wantErr   string
		wantKeyed bool
	}{
		{name: "optional without key", require: false, key: "", wantKeyed: false},
		{name: "optional with key", require: false, key: "short", wantKeyed: true},
		{name: "required missing", require: true, key: "", wantErr: "missing"},
		{name: "required short", require: true, key: "0123456789", wantErr: "too short"},
		{name: "required ok", require: true, key: strings.Repeat("k", 32), wantKeyed: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(token.HMACEnvKey, tc.key)

			h, err := loadTokenHasher(Config{RequireTokenHMAC: tc.require})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err=%v want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadTokenHasher: %v", err)
			}
			if h.Keyed() != tc.wantKeyed {
				t.Fatalf("Keyed()=%v want=%v", h.Keyed(), tc.wantKeyed)
			}
		})
	}
}
