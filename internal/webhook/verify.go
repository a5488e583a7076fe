// Package webhook receives signed delivery lifecycle events from the email
// transport and advances delivery records through their state machine.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Verify checks a svix-style webhook signature: HMAC-SHA256 over
// "{id}.{timestamp}.{body}", base64-encoded. The signature header carries
// space-separated "version,signature" tokens; the event is authentic if any
// token's signature half matches. Pure function so golden vectors can pin
// it down without the HTTP layer.
func Verify(secret, msgID, timestamp string, body []byte, signatureHeader string) bool {
	if secret == "" || msgID == "" || timestamp == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, token := range strings.Fields(signatureHeader) {
		parts := strings.SplitN(token, ",", 2)
		if len(parts) != 2 {
			continue
		}
		if hmac.Equal([]byte(parts[1]), []byte(expected)) {
			return true
		}
	}

	return false
}
