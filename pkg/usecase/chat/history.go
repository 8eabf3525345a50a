package chat

import (
	"context"
	"encoding/json"
	"io"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

func transcriptKey(id model.SessionID) string {
	return "transcripts/" + string(id) + ".json"
}

// LoadTranscript loads an archived transcript from Cloud Storage
func LoadTranscript(ctx context.Context, storage adapter.Storage, id model.SessionID) (*model.Transcript, error) {
	reader, err := storage.Get(ctx, transcriptKey(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get transcript from storage")
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read transcript data")
	}

	var transcript model.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal transcript")
	}
	if transcript.ID == "" {
		transcript.ID = id
	}

	return &transcript, nil
}

// saveTranscript writes the transcript to Cloud Storage
func saveTranscript(ctx context.Context, storage adapter.Storage, transcript *model.Transcript) error {
	writer, err := storage.Put(ctx, transcriptKey(transcript.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer")
	}

	data, err := json.Marshal(transcript)
	if err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to marshal transcript")
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write transcript to storage")
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer")
	}

	return nil
}
