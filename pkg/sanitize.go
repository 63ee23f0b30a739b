package pkg

import (
	"regexp"
	"unicode/utf8"
)

const MaxInputLength = 10000

// controlChars matches C0 controls except tab, newline and carriage return, plus DEL.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// SanitizeInput strips control characters from program input and caps it at
// MaxInputLength characters.
func SanitizeInput(input string) string {
	input = controlChars.ReplaceAllString(input, "")
	if utf8.RuneCountInString(input) <= MaxInputLength {
		return input
	}
	return string([]rune(input)[:MaxInputLength])
}
