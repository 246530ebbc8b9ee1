package message

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"valid simple", "hello world", "hello world", nil},
		{"trims whitespace", "  hello  ", "hello", nil},
		{"empty after trim is allowed", "   ", "", nil},
		{"empty string is allowed", "", "", nil},
		{"exact max length", strings.Repeat("a", MaxContentLength), strings.Repeat("a", MaxContentLength), nil},
		{"exceeds max length", strings.Repeat("a", MaxContentLength+1), "", ErrContentTooLong},
		{"multibyte exceeds max", strings.Repeat("日", MaxContentLength+1), "", ErrContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateContent(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateContent(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ValidateContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateNonce(t *testing.T) {
	t.Parallel()

	if err := ValidateNonce(strings.Repeat("a", MaxNonceLength)); err != nil {
		t.Errorf("ValidateNonce at max length: %v", err)
	}
	if err := ValidateNonce(strings.Repeat("a", MaxNonceLength+1)); !errors.Is(err, ErrNonceTooLong) {
		t.Errorf("ValidateNonce over max length = %v, want ErrNonceTooLong", err)
	}
}

func makeUUIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func TestValidateFileIDs(t *testing.T) {
	t.Parallel()

	if err := ValidateFileIDs(makeUUIDs(MaxFileIDs)); err != nil {
		t.Errorf("ValidateFileIDs at max = %v", err)
	}
	if err := ValidateFileIDs(makeUUIDs(MaxFileIDs + 1)); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("ValidateFileIDs over max = %v, want ErrTooManyFiles", err)
	}
}

func TestValidateEmbeds(t *testing.T) {
	t.Parallel()

	tooLong := strings.Repeat("a", MaxEmbedShort+1)
	badColor := "red"
	goodColor := "#1A2B3C"
	badURL := "ftp://example.com/image.png"
	goodURL := "https://example.com/image.png"

	tests := []struct {
		name    string
		embeds  []Embed
		wantErr error
	}{
		{"empty ok", nil, nil},
		{"title too long", []Embed{{Title: &tooLong}}, ErrEmbedFieldLong},
		{"bad color", []Embed{{Color: &badColor}}, ErrEmbedBadColor},
		{"good color", []Embed{{Color: &goodColor}}, nil},
		{"bad url", []Embed{{URL: &badURL}}, ErrEmbedBadURL},
		{"good url", []Embed{{URL: &goodURL}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateEmbeds(tt.embeds); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateEmbeds() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var tooMany []Embed
	for range MaxEmbeds + 1 {
		tooMany = append(tooMany, Embed{})
	}
	if err := ValidateEmbeds(tooMany); !errors.Is(err, ErrTooManyEmbeds) {
		t.Errorf("ValidateEmbeds(too many) error = %v, want ErrTooManyEmbeds", err)
	}
}

func TestRequireNonEmpty(t *testing.T) {
	t.Parallel()

	if err := RequireNonEmpty("", nil, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("RequireNonEmpty(empty) = %v, want ErrEmptyMessage", err)
	}
	if err := RequireNonEmpty("hi", nil, nil); err != nil {
		t.Errorf("RequireNonEmpty(content) = %v", err)
	}
}

func TestExtractMentionCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single mention", "hey @bob", []string{"bob"}},
		{"dedupe preserves order", "@carol @bob @carol", []string{"carol", "bob"}},
		{"email-like is not a mention", "contact me@example.com please", nil},
		{"leading mention", "@alice hello", []string{"alice"}},
		{"case folded", "@Bob and @BOB", []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractMentionCandidates(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractMentionCandidates(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractMentionCandidates(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractMentionCandidatesCapsAt25(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := range 40 {
		fmt.Fprintf(&sb, " @user%d", i)
	}
	got := ExtractMentionCandidates(sb.String())
	if len(got) > 25 {
		t.Errorf("ExtractMentionCandidates returned %d candidates, want <= 25", len(got))
	}
}

func TestMessageEmbedsConcatenatesUserThenSystem(t *testing.T) {
	t.Parallel()

	userTitle := "user embed"
	sysTitle := "system embed"
	m := Message{
		UserEmbeds:   []Embed{{Title: &userTitle}},
		SystemEmbeds: []Embed{{Title: &sysTitle}},
	}

	got := m.Embeds()
	if len(got) != 2 {
		t.Fatalf("Embeds() returned %d embeds, want 2", len(got))
	}
	if *got[0].Title != userTitle || *got[1].Title != sysTitle {
		t.Errorf("Embeds() order = %+v, want user embeds before system embeds", got)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input int
		want  int
	}{
		{"zero defaults", 0, DefaultLimit},
		{"negative defaults", -1, DefaultLimit},
		{"within range", 25, 25},
		{"at minimum boundary", 1, 1},
		{"at maximum boundary", MaxLimit, MaxLimit},
		{"exceeds maximum", MaxLimit + 1, MaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ClampLimit(tt.input); got != tt.want {
				t.Errorf("ClampLimit(%d) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
