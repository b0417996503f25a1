package dispatch

import (
	"encoding/json"

	"github.com/voicepipe/voicepipe/errors"
)

// InputData is the decoded, stage-specific input payload of a job.
// Payloads are polymorphic by job type; DecodeInput picks the variant from
// the job's type tag and validates it. A job whose payload does not decode
// is failed at claim time with a schema-mismatch message rather than handed
// to an adapter.
type InputData interface {
	Validate() error
}

// SourceKeyed is implemented by inputs that reference a source object in
// blob storage. Adapters use it to fail fast on dangling references.
type SourceKeyed interface {
	SourceKey() string
}

// TranscriptionInput feeds the ASR stage.
type TranscriptionInput struct {
	EpisodeID string `json:"episodeId"`
	S3Key     string `json:"s3Key"`
}

func (in *TranscriptionInput) Validate() error {
	if in.EpisodeID == "" || in.S3Key == "" {
		return errors.New("transcription input requires episodeId and s3Key")
	}
	return nil
}

func (in *TranscriptionInput) SourceKey() string { return in.S3Key }

// TranscriptionOutput is the ASR stage result.
type TranscriptionOutput struct {
	TranscriptKey string  `json:"transcriptKey"`
	Language      string  `json:"language"`
	Duration      float64 `json:"duration"`
	SegmentCount  int     `json:"segmentCount"`
	WordCount     int     `json:"wordCount"`
}

// DiarizationInput feeds the speaker-separation stage.
type DiarizationInput struct {
	EpisodeID string `json:"episodeId"`
	S3Key     string `json:"s3Key"`
}

func (in *DiarizationInput) Validate() error {
	if in.EpisodeID == "" || in.S3Key == "" {
		return errors.New("diarization input requires episodeId and s3Key")
	}
	return nil
}

func (in *DiarizationInput) SourceKey() string { return in.S3Key }

// DiarizationOutput is the speaker-separation stage result.
type DiarizationOutput struct {
	RTTMKey        string  `json:"rttmKey"`
	SegmentCount   int     `json:"segmentCount"`
	SpeakerCount   int     `json:"speakerCount"`
	TotalDuration  float64 `json:"totalDuration"`
	EmbeddingCount int     `json:"embeddingCount"`
}

// EmbeddingExtractionInput feeds the speaker-embedding stage.
type EmbeddingExtractionInput struct {
	EpisodeID string `json:"episodeId"`
	S3Key     string `json:"s3Key"`
}

func (in *EmbeddingExtractionInput) Validate() error {
	if in.EpisodeID == "" || in.S3Key == "" {
		return errors.New("embedding extraction input requires episodeId and s3Key")
	}
	return nil
}

func (in *EmbeddingExtractionInput) SourceKey() string { return in.S3Key }

// SpeakerClusteringInput feeds the cross-episode clustering stage.
type SpeakerClusteringInput struct {
	EpisodeID string `json:"episodeId"`
}

func (in *SpeakerClusteringInput) Validate() error {
	if in.EpisodeID == "" {
		return errors.New("speaker clustering input requires episodeId")
	}
	return nil
}

// TTSSynthesisInput feeds the voice synthesis stage. SpeakerID and
// VoiceModelID are alternatives: a synthesis request names one or the other.
type TTSSynthesisInput struct {
	SynthesisRequestID string          `json:"synthesisRequestId"`
	SpeakerID          string          `json:"speakerId,omitempty"`
	VoiceModelID       string          `json:"voiceModelId,omitempty"`
	InputText          string          `json:"inputText"`
	Parameters         json.RawMessage `json:"parameters,omitempty"`
}

func (in *TTSSynthesisInput) Validate() error {
	if in.SynthesisRequestID == "" {
		return errors.New("tts synthesis input requires synthesisRequestId")
	}
	if in.InputText == "" {
		return errors.New("tts synthesis input requires inputText")
	}
	return nil
}

// TTSSynthesisOutput is the voice synthesis stage result.
type TTSSynthesisOutput struct {
	OutputKey    string  `json:"outputKey"`
	Duration     float64 `json:"duration"`
	SampleRate   int     `json:"sampleRate"`
	QualityScore float64 `json:"qualityScore"`
}

// TTSTrainingInput feeds the voice model training stage.
type TTSTrainingInput struct {
	VoiceModelID   string          `json:"voiceModelId"`
	SpeakerID      string          `json:"speakerId"`
	TrainingConfig json.RawMessage `json:"trainingConfig,omitempty"`
}

func (in *TTSTrainingInput) Validate() error {
	if in.VoiceModelID == "" || in.SpeakerID == "" {
		return errors.New("tts training input requires voiceModelId and speakerId")
	}
	return nil
}

// TTSTrainingOutput is the voice model training stage result.
type TTSTrainingOutput struct {
	ModelKey         string  `json:"modelKey"`
	ConfigKey        string  `json:"configKey"`
	TrainingDuration float64 `json:"trainingDuration"`
	QualityScore     float64 `json:"qualityScore"`
}

// DecodeInput decodes and validates a raw payload against the schema for
// the given job type. Unknown job types and schema mismatches return an
// error the runtime records as a FAILED terminal state.
func DecodeInput(jobType JobType, raw json.RawMessage) (InputData, error) {
	var in InputData
	switch jobType {
	case JobTypeTranscription:
		in = &TranscriptionInput{}
	case JobTypeDiarization:
		in = &DiarizationInput{}
	case JobTypeEmbeddingExtraction:
		in = &EmbeddingExtractionInput{}
	case JobTypeSpeakerClustering:
		in = &SpeakerClusteringInput{}
	case JobTypeTTSSynthesis:
		in = &TTSSynthesisInput{}
	case JobTypeTTSTraining:
		in = &TTSTrainingInput{}
	default:
		return nil, errors.Newf("schema mismatch: unknown job type %q", jobType)
	}

	if len(raw) == 0 {
		return nil, errors.Newf("schema mismatch: empty input payload for %s", jobType)
	}
	if err := json.Unmarshal(raw, in); err != nil {
		return nil, errors.Wrapf(err, "schema mismatch: malformed %s payload", jobType)
	}
	if err := in.Validate(); err != nil {
		return nil, errors.Wrapf(err, "schema mismatch: invalid %s payload", jobType)
	}
	return in, nil
}
