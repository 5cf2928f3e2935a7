package utils // import "github.com/skypoolhq/skypool/utils"

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// SanitizeEmail matches an email against a general email regex and returns an
// empty string when it doesn't match. The email arrives from the client and
// can be spoofed, so it is never trusted as-is.
func SanitizeEmail(email string) string {
	if emailRegex.MatchString(email) {
		return email
	}
	return ""
}

// RandHex creates a hexadecimal string with the provided number of bytes of
// randomness. Therefore, the output string will have length 2 * numBytes.
func RandHex(numBytes uint8) string {
	b := make([]byte, numBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ColorRed returns the input string surrounded by the ANSI escape codes to
// color the text red. Text color is reset at the end of the returned string.
func ColorRed(s string) string {
	const (
		codeReset = "\033[0m"
		codeRed   = "\033[31m"
	)

	return Sprintf("%s%s%s", codeRed, s, codeReset)
}

// The following two functions exist so that we don't have to import `fmt` into
// any other packages (so we don't accidentally log something using `fmt`
// functions instead of using the `skylogger` equivalents that send
// information to logz.io and Sentry).

// Sprintf creates a string from format string and args.
func Sprintf(format string, v ...interface{}) string {
	return fmt.Sprintf(format, v...)
}

// MakeError creates an error from format string and args.
func MakeError(format string, v ...interface{}) error {
	return fmt.Errorf(format, v...)
}
