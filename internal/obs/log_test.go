package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEmitStampsStandardKeys(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Emit("info", "request_complete", map[string]any{
		"status": 200,
		"level":  "debug", // caller-supplied value must lose to the stamp
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("line is not JSON: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"ts", "level", "msg", "status"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %v", key, entry)
		}
	}
	if entry["level"] != "info" || entry["msg"] != "request_complete" {
		t.Fatalf("stamped keys wrong: %v", entry)
	}
}
