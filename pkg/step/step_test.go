package step

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expected    Step
		errContains string
	}{
		{
			name:     "Script",
			input:    "/usr/local/bin/pre-backup.sh",
			expected: Step{Kind: Script, Raw: "/usr/local/bin/pre-backup.sh", Path: "/usr/local/bin/pre-backup.sh"},
		},
		{
			name:     "Plain built-in",
			input:    "snapshot",
			expected: Step{Kind: Snapshot, Raw: "snapshot"},
		},
		{
			name:     "Export with long flag",
			input:    "export-intermediate --full",
			expected: Step{Kind: ExportIntermediate, Raw: "export-intermediate --full", Options: Options{Full: true}},
		},
		{
			name:     "Export with short flag",
			input:    "export-intermediate -i",
			expected: Step{Kind: ExportIntermediate, Raw: "export-intermediate -i", Options: Options{Incremental: true}},
		},
		{
			name:     "Prune with confirmation",
			input:    "prune-snapshots -y",
			expected: Step{Kind: PruneSnapshots, Raw: "prune-snapshots -y", Options: Options{Yes: true}},
		},
		{
			name:     "Upload quoted snapshot",
			input:    `upload-intermediate-to-remote --snapshot "data/test@20200515121005"`,
			expected: Step{Kind: UploadIntermediate, Raw: `upload-intermediate-to-remote --snapshot "data/test@20200515121005"`, Options: Options{Snapshot: "data/test@20200515121005"}},
		},
		{
			name:        "Unknown command",
			input:       "explode",
			errContains: "explode is not a valid step",
		},
		{
			name:        "Script name is not a command",
			input:       "script",
			errContains: "not a valid step",
		},
		{
			name:        "Flag not known to command",
			input:       "snapshot --yes",
			errContains: "unknown flag",
		},
		{
			name:        "Positional argument",
			input:       "lock now",
			errContains: "unexpected arguments: now",
		},
		{
			name:        "Unbalanced quote",
			input:       `upload-intermediate-to-remote -s "data`,
			errContains: "cannot split step",
		},
		{
			name:        "Empty",
			input:       "  ",
			errContains: "empty step",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("expected error containing %q, got %v", tc.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("expected %+v, got %+v", tc.expected, got)
			}
		})
	}
}

func TestParseOptions_MutuallyExclusive(t *testing.T) {
	_, err := ParseOptions(ExportIntermediate, []string{"-f", "-i"})
	if !errors.Is(err, ErrFullAndIncremental) {
		t.Fatalf("expected ErrFullAndIncremental, got %v", err)
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, name := range Names() {
		kind, err := ParseKind(name)
		if err != nil {
			t.Fatalf("ParseKind(%q) failed: %v", name, err)
		}
		if kind.String() != name {
			t.Errorf("expected %q, got %q", name, kind.String())
		}
	}
	if len(Names()) != 11 {
		t.Errorf("expected 11 built-in steps, got %d: %v", len(Names()), Names())
	}
}
