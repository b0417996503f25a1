package dispatch

import (
	"fmt"
	"strings"
)

// Blob key conventions. Every stage writes under its own prefix; keys are
// deterministic so re-running a stage overwrites its previous output.

// TranscriptKey locates the ASR output for an episode.
func TranscriptKey(episodeID string) string {
	return fmt.Sprintf("transcripts/%s/whisperx.json", episodeID)
}

// RTTMKey locates the diarization segment file for an episode.
func RTTMKey(episodeID string) string {
	return fmt.Sprintf("diarization/%s/segments.rttm", episodeID)
}

// EmbeddingKey locates one speaker embedding, addressed by the sha256 of
// its vector.
func EmbeddingKey(episodeID, sha256Hex string) string {
	return fmt.Sprintf("embeddings/%s/spk-%s.npy", episodeID, sha256Hex)
}

// SynthOutputKey locates a synthesis result. Requests without a speaker go
// under "unknown".
func SynthOutputKey(speakerID, requestID string) string {
	if speakerID == "" {
		speakerID = "unknown"
	}
	return fmt.Sprintf("synth/%s/%s/output.wav", speakerID, requestID)
}

// VoiceModelKey and VoiceConfigKey locate a trained voice model version.
func VoiceModelKey(speakerID string, version int) string {
	return fmt.Sprintf("voices/%s/xtts-v2/v%d/model.pth", speakerID, version)
}

func VoiceConfigKey(speakerID string, version int) string {
	return fmt.Sprintf("voices/%s/xtts-v2/v%d/config.json", speakerID, version)
}

// RTTMSegment is one diarization segment for RTTM serialization.
type RTTMSegment struct {
	Start      float64
	Duration   float64
	Speaker    string
	Confidence float64
}

// FormatRTTM renders segments in RTTM, one SPEAKER line per segment:
//
//	SPEAKER <file> 1 <start> <dur> <NA> <NA> <spk> <conf> <NA>
func FormatRTTM(fileID string, segments []RTTMSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "SPEAKER %s 1 %.3f %.3f <NA> <NA> %s %.3f <NA>\n",
			fileID, seg.Start, seg.Duration, seg.Speaker, seg.Confidence)
	}
	return b.String()
}
