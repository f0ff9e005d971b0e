// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"archive"}, "archive"},
		{[]string{"mirror", "url_rewrites", "0", "from"}, "mirror.url_rewrites[0].from"},
		{[]string{"0"}, "0"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestFormatError_CUEValidation(t *testing.T) {
	t.Parallel()

	ctx := cuecontext.New()
	schema := ctx.CompileString(`#C: { if_exists: "merge" | "overwrite" }`).LookupPath(cue.ParsePath("#C"))
	user := ctx.CompileString(`if_exists: "keep"`, cue.Filename("config.cue"))
	err := schema.Unify(user).Validate(cue.Concrete(false))
	if err == nil {
		t.Fatal("expected validation error")
	}

	formatted := FormatError(err, "config.cue")
	if !strings.HasPrefix(formatted.Error(), "config.cue: ") {
		t.Errorf("error should start with the file path, got %q", formatted)
	}
	if !strings.Contains(formatted.Error(), "if_exists") {
		t.Errorf("error should name the field, got %q", formatted)
	}
}

func TestFormatError_NonCUE(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	base := errors.New("boom")
	got := FormatError(base, "config.cue")
	if !strings.HasPrefix(got.Error(), "config.cue: ") || !strings.Contains(got.Error(), "boom") {
		t.Errorf("plain errors should keep their message, got %v", got)
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "a.cue"); err != nil {
		t.Errorf("size at limit should pass: %v", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "a.cue"); err == nil {
		t.Error("size above limit should fail")
	}
}
