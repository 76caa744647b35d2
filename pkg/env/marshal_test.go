package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	URL string `env:"SEARCH_URL"`
}

type sample struct {
	Runtime  string        `env:"RUNTIME_PATH" envDefault:".percept"`
	Token    string        `env:"TOKEN,required"`
	Owner    int64         `env:"OWNER_ID"`
	Enabled  bool          `env:"ENABLED" envDefault:"false"`
	Timeout  time.Duration `env:"TIMEOUT"`
	Phrases  []string      `env:"PHRASES"`
	Search   nested
	internal string
}

func TestMarshalEnv(t *testing.T) {
	tests := []struct {
		name string
		in   *sample
		want string
	}{
		{
			name: "defaults_and_placeholders",
			in:   &sample{},
			want: "RUNTIME_PATH=.percept\n# TOKEN=\n# OWNER_ID=\nENABLED=false\n# TIMEOUT=\n# PHRASES=\n# SEARCH_URL=\n",
		},
		{
			name: "values_override_defaults",
			in: &sample{
				Runtime: "/var/lib/percept",
				Token:   "abc",
				Owner:   42,
				Enabled: true,
				Timeout: 15 * time.Second,
				Phrases: []string{"hey jarvis", "jarvis"},
				Search:  nested{URL: "http://localhost:8090"},
			},
			want: "RUNTIME_PATH=/var/lib/percept\nTOKEN=abc\nOWNER_ID=42\nENABLED=true\nTIMEOUT=15s\nPHRASES=hey jarvis,jarvis\nSEARCH_URL=http://localhost:8090\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalEnv(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalEnv_RejectsNonPointer(t *testing.T) {
	_, err := MarshalEnv(sample{})
	assert.Error(t, err)
}
