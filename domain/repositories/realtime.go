package repositories

import (
	"context"
	"encoding/json"
)

// SessionMinter obtains ephemeral realtime session grants from the upstream
// provider. The returned body is passed to the client unchanged.
type SessionMinter interface {
	MintSession(ctx context.Context) (json.RawMessage, error)
}

// UtteranceArchive stores the raw audio of one finished utterance.
type UtteranceArchive interface {
	Save(ctx context.Context, connectionID string, pcm []byte, sampleRate int) (string, error)
}
