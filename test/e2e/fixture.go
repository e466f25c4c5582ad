package e2e

import (
	"os"
	"path/filepath"
	"time"
)

// T is the reference incident time used by every scenario.
var T = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

// fixtureFeed is a JSONL ingestion file: a state-actor sighting near
// Itzehoe with an unrelated chatter channel, and five days later a consumer
// drone sighting near Kiel with a recruitment post and the wallet that paid
// out.
const fixtureFeed = `{"type":"incident","external_id":"itz-001","timestamp":"2025-09-10T12:00:00Z","lat":53.89,"lon":9.13,"equipment":"military reconnaissance, 120km range","confidence":0.9}
{"type":"signal","external_id":"tg-chat-1","kind":"post","channel":"tg:chatter","timestamp":"2025-09-10T13:00:00Z","lat":53.9,"lon":9.14,"content":"heard something loud over the river","scores":{"suspicion":0.4}}
{"type":"incident","external_id":"kie-001","timestamp":"2025-09-15T12:00:00Z","lat":54.32,"lon":10.13,"equipment":"consumer quadcopter","confidence":0.7}
{"type":"signal","external_id":"tg-job-1","kind":"post","channel":"tg:jobs","timestamp":"2025-09-15T10:00:00Z","lat":54.33,"lon":10.13,"content":"Will pay 500 USD for clear video of the naval yard tonight","scores":{"suspicion":9,"credibility":0.8}}
{"type":"signal","external_id":"tx-001","kind":"transaction","channel":"wallet:42","timestamp":"2025-09-14T12:00:00Z","amount":5000,"currency":"USD"}
`

// writeFeed writes fixtureFeed into dir and returns its path.
func writeFeed(dir string) (string, error) {
	path := filepath.Join(dir, "feed.jsonl")
	return path, os.WriteFile(path, []byte(fixtureFeed), 0644)
}

func readSnapshot(f *os.File) string {
	if err := f.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		return ""
	}
	out := make([]byte, 0, 8192)
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return string(out)
}
