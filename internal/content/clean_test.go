package content

import "testing"

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "stops at dash separator",
			input: "Hi,\nYour code is 123456\n--\nJohn Doe\njohn@example.com",
			want:  "Hi,\nYour code is 123456",
		},
		{
			name:  "stops at pipe separator",
			input: "Meeting moved to 3pm\n|||\nSent from my phone",
			want:  "Meeting moved to 3pm",
		},
		{
			name:  "stops at lone pipe",
			input: "See you\n|\nfooter",
			want:  "See you",
		},
		{
			name:  "stops at bare email address",
			input: "Thanks for the update\nJane\njane@example.org\nAcme Corp",
			want:  "Thanks for the update\nJane",
		},
		{
			name:  "stops at labeled email line",
			input: "Shipment dispatched\nContact: support@shop.example.com\nUnsubscribe here",
			want:  "Shipment dispatched",
		},
		{
			name:  "labeled line with more than an address is content",
			input: "From: Alice, about alice@example.com account\nDone",
			want:  "From: Alice, about alice@example.com account\nDone",
		},
		{
			name:  "blank lines are skipped",
			input: "\n\n  First  \n\n\nSecond\n\n",
			want:  "First\nSecond",
		},
		{
			name:  "sensitive lines survive after ordinary content",
			input: "Login attempt\nYour password reset token: abc\n----\nsig",
			want:  "Login attempt\nYour password reset token: abc",
		},
		{
			name:  "chinese verification code",
			input: "您好\n您的验证码是 889900\n---\n客服团队",
			want:  "您好\n您的验证码是 889900",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClean_SensitiveOverridesBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "code address on its own line",
			input: "Hello\ncode@example.com\nnext line",
			want:  "Hello\ncode@example.com\nnext line",
		},
		{
			name:  "password in labeled email line",
			input: "Account created\nEmail: 密码@example.com\nWelcome",
			want:  "Account created\nEmail: 密码@example.com\nWelcome",
		},
		{
			name:  "key in contact line",
			input: "Contact: key@vault.example.com\nrest",
			want:  "Contact: key@vault.example.com\nrest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Hi,\nYour code is 123456\n--\nJohn Doe\njohn@example.com",
		"  indented first line\n\n\tsecond\n|\nafter",
		"token: 1\n--\ncode: 2\nplain\nx@y.io",
		"您的密码已重置\n\n\n联系我们\nservice@example.cn",
		"no boundary at all\njust text",
	}

	for _, in := range inputs {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}
