// Package gpg verifies GPG signatures on RPC payloads (spec.md §4.6's
// signed control messages), grounded in the original implementation's
// eva/gpg.py GPGSignatureChecker: shell out to the gpg binary over a pair
// of temporary files, since no pack repo imports a pure-Go OpenPGP library
// and the original itself shells out rather than using one.
package gpg

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SignatureResult is the parsed outcome of one `gpg --verify` invocation.
type SignatureResult struct {
	ExitCode  int
	Stdout    []string
	Stderr    []string
	Timestamp time.Time
	KeyType   string
	KeyID     string
	Signer    string
}

// OK reports whether gpg exited zero, i.e. the signature verified.
func (r *SignatureResult) OK() bool { return r.ExitCode == 0 }

var (
	signatureLineRegex = regexp.MustCompile(`^gpg: Signature made (.+) using (\S+) key ID (\w+)$`)
	signerLineRegex    = regexp.MustCompile(`^gpg: Good signature from "(.+)"$`)
)

func (r *SignatureResult) parseStderr() {
	for _, line := range r.Stderr {
		if m := signatureLineRegex.FindStringSubmatch(line); m != nil {
			if t, err := time.Parse(time.RFC1123Z, m[1]); err == nil {
				r.Timestamp = t
			} else if t, err := time.Parse("Mon 02 Jan 2006 15:04:05 PM MST", m[1]); err == nil {
				r.Timestamp = t
			}
			r.KeyType = m[2]
			r.KeyID = m[3]
		}
		if m := signerLineRegex.FindStringSubmatch(line); m != nil {
			r.Signer = m[1]
		}
	}
}

// Verify checks signature (an ASCII-armored detached signature, one line
// per element) against payload by shelling out to the gpg binary. It
// writes both to a temporary directory that is removed before returning.
func Verify(payload string, signature []string) (*SignatureResult, error) {
	dir, err := os.MkdirTemp("", "relay-gpg-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	payloadFile := filepath.Join(dir, "request")
	signatureFile := filepath.Join(dir, "request.asc")

	if err := os.WriteFile(payloadFile, []byte(payload), 0600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(signatureFile, []byte(strings.Join(signature, "\n")+"\n"), 0600); err != nil {
		return nil, err
	}

	cmd := exec.Command("gpg", "--verify", signatureFile)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	result := &SignatureResult{
		ExitCode: exitCode,
		Stdout:   splitNonEmpty(stdout.String()),
		Stderr:   splitNonEmpty(stderr.String()),
	}
	result.parseStderr()
	return result, nil
}

func splitNonEmpty(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
