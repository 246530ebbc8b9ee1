package user

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrInvalidToken", ErrInvalidToken},
		{"ErrTombstoned", ErrTombstoned},
		{"ErrBioLength", ErrBioLength},
		{"ErrInvalidColor", ErrInvalidColor},
		{"ErrInvalidStatus", ErrInvalidStatus},
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				if !errors.Is(a.err, b.err) {
					t.Errorf("errors.Is(%s, %s) = false, want true", a.name, b.name)
				}
			} else if errors.Is(a.err, b.err) {
				t.Errorf("errors.Is(%s, %s) = true, want false", a.name, b.name)
			}
		}
	}
}

func TestCreateParamsZeroValue(t *testing.T) {
	t.Parallel()

	var p CreateParams
	if p.Username != "" || p.Email != "" || p.PasswordHash != "" || p.Token != "" || p.VerificationCode != "" {
		t.Error("CreateParams zero value should have empty strings")
	}
}

func TestFlagsHas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags Flags
		bit   Flags
		want  bool
	}{
		{"admin only has admin", FlagAdmin, FlagAdmin, true},
		{"admin only lacks webhook", FlagAdmin, FlagWebhook, false},
		{"both set has both", FlagAdmin | FlagWebhook, FlagWebhook, true},
		{"zero value has neither", 0, FlagAdmin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.flags.Has(tt.bit); got != tt.want {
				t.Errorf("Has() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateBio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   *string
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"empty string", ptr(""), false},
		{"1000 chars", ptr(strings.Repeat("a", 1000)), false},
		{"1001 chars", ptr(strings.Repeat("a", 1001)), true},
		{"1000 multibyte runes", ptr(strings.Repeat("é", 1000)), false},
		{"1001 multibyte runes", ptr(strings.Repeat("é", 1001)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateBio(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBio() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBioLength) {
				t.Errorf("ValidateBio() error = %v, want ErrBioLength", err)
			}
		})
	}
}

func TestValidateColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   *string
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"valid lowercase", ptr("#aabbcc"), false},
		{"valid uppercase", ptr("#AABBCC"), false},
		{"valid mixed", ptr("#1a2B3c"), false},
		{"missing hash", ptr("aabbcc"), true},
		{"too short", ptr("#abc"), true},
		{"too long", ptr("#aabbccdd"), true},
		{"non-hex chars", ptr("#gghhii"), true},
		{"empty string", ptr(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateColor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateColor(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidColor) {
				t.Errorf("ValidateColor() error = %v, want ErrInvalidColor", err)
			}
		})
	}
}

func TestValidateDefaultStatus(t *testing.T) {
	t.Parallel()

	online := StatusOnline
	away := StatusAway
	dnd := StatusDND
	invisible := StatusInvisible
	invalid := Status("busy")

	tests := []struct {
		name    string
		input   *Status
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"online", &online, false},
		{"away", &away, false},
		{"dnd", &dnd, false},
		{"invisible", &invisible, false},
		{"invalid value", &invalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateDefaultStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDefaultStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToModelOmitsEmailByDefault(t *testing.T) {
	t.Parallel()

	u := &User{Username: "alice", DefaultStatus: StatusOnline, Email: "alice@example.com"}

	withoutEmail := u.ToModel("online", false)
	if withoutEmail.Email != nil {
		t.Errorf("expected nil email, got %v", *withoutEmail.Email)
	}

	withEmail := u.ToModel("online", true)
	if withEmail.Email == nil || *withEmail.Email != "alice@example.com" {
		t.Errorf("expected email to be included, got %v", withEmail.Email)
	}
}

func TestToAuthorSynthesizesFlags(t *testing.T) {
	t.Parallel()

	u := &User{Username: "bob", Flags: FlagAdmin}
	a := u.ToAuthor()

	if !a.Flags.Admin {
		t.Error("expected admin flag to carry through to Author projection")
	}
	if a.Flags.Webhook {
		t.Error("expected webhook flag to be false")
	}
}

func ptr(s string) *string { return &s }
