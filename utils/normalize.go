package utils

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// NormalizeDTO trims string fields on a pointer-to-struct DTO.
// Useful for create DTOs before validation.
func NormalizeDTO(dto any) {
	v := reflect.ValueOf(dto)
	if v.Kind() != reflect.Ptr {
		return
	}
	s := v.Elem()
	if s.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// NormalizeSlug lowercases and trims a human-supplied name into a URL-safe slug.
// Slugs double as idempotency scopes, so the character set is kept strict.
func NormalizeSlug(name string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("invalid slug after normalization: %q", slug)
	}
	return slug, nil
}
