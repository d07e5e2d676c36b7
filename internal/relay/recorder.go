package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/halcyon-sec/pamgate/internal/relaytoken"
)

// recorder owns a session's recording artifacts: the one-shot metadata
// record, the raw transcript and the command log. It is created only after
// the target shell is established, so failed connections leave nothing
// behind. Appends are flushed immediately: durability over throughput.
type recorder struct {
	transcript *os.File
	commands   *os.File
}

type transcriptLine struct {
	TS   float64 `json:"ts"`
	Data string  `json:"data"`
}

type sessionMeta struct {
	SessionID int64  `json:"session_id"`
	AssetHost string `json:"asset_host"`
	AssetPort int    `json:"asset_port"`
	VaultPath string `json:"vault_path"`
}

func newRecorder(dataDir, recordingsDir string, claims *relaytoken.Claims) (*recorder, error) {
	if err := os.MkdirAll(recordingsDir, 0700); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	transcriptPath := filepath.Join(dataDir, claims.RecordingPath)
	if err := os.MkdirAll(filepath.Dir(transcriptPath), 0700); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	meta, err := json.Marshal(sessionMeta{
		SessionID: claims.SessionID,
		AssetHost: claims.AssetHost,
		AssetPort: claims.AssetPort,
		VaultPath: claims.VaultPath,
	})
	if err != nil {
		return nil, err
	}
	metaPath := filepath.Join(recordingsDir, fmt.Sprintf("session-%d.meta.json", claims.SessionID))
	if err := os.WriteFile(metaPath, meta, 0600); err != nil {
		return nil, fmt.Errorf("write session metadata: %w", err)
	}

	transcript, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	cmdPath := filepath.Join(recordingsDir, fmt.Sprintf("session-%d.cmd.log", claims.SessionID))
	commands, err := os.OpenFile(cmdPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		transcript.Close()
		return nil, fmt.Errorf("open command log: %w", err)
	}

	return &recorder{transcript: transcript, commands: commands}, nil
}

// AppendTranscript appends one chunk of target output, base64 encoded, and
// flushes it to disk.
func (r *recorder) AppendTranscript(ts time.Time, chunk []byte) error {
	return writeJSONLine(r.transcript, transcriptLine{
		TS:   epochSeconds(ts),
		Data: base64.StdEncoding.EncodeToString(chunk),
	})
}

// AppendCommand appends one parsed command entry and flushes it to disk.
func (r *recorder) AppendCommand(entry commandEntry) error {
	return writeJSONLine(r.commands, entry)
}

// Close closes both recording targets.
func (r *recorder) Close() {
	r.transcript.Close()
	r.commands.Close()
}

func writeJSONLine(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
