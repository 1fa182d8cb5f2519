package session

type Stage string

const (
	StageNone               Stage = ""
	StageSpeechToText       Stage = "speech_to_text"
	StageLanguageGeneration Stage = "language_generation"
	StageTextToSpeech       Stage = "text_to_speech"
	StageGeneric            Stage = "generic"
)

// ProcessingState is the presentation state of the in-flight turn.
type ProcessingState struct {
	IsProcessing bool
	Stage        Stage
	// Status is the human-readable status line, empty when idle.
	Status string
}

const (
	statusReceivingAudio  = "Receiving audio..."
	statusProcessingReply = "Processing response..."
	statusSendingMessage  = "Sending message..."
	statusUploadingAudio  = "Uploading audio..."
)

type stageDescription struct {
	stage  Stage
	status string
}

var stageTable = map[string]stageDescription{
	"stt": {stage: StageSpeechToText, status: "Converting your speech to text..."},
	"llm": {stage: StageLanguageGeneration, status: "Generating response..."},
	"tts": {stage: StageTextToSpeech, status: "Synthesizing audio response..."},
}

var genericStage = stageDescription{stage: StageGeneric, status: "Processing..."}

// describeStage maps a wire stage code to its stage and status line.
func describeStage(code string) stageDescription {
	if description, ok := stageTable[code]; ok {
		return description
	}
	return genericStage
}

// processingStatusTracker owns the ProcessingState of a session. Only turn
// completion (and session reset) clears it.
type processingStatusTracker struct {
	state ProcessingState
}

// Update marks the turn as processing at the stage identified by code.
func (p *processingStatusTracker) Update(code string) ProcessingState {
	description := describeStage(code)
	p.state = ProcessingState{
		IsProcessing: true,
		Stage:        description.stage,
		Status:       description.status,
	}
	return p.state
}

// Begin marks a locally initiated turn as processing before the server
// reports any stage.
func (p *processingStatusTracker) Begin(status string) ProcessingState {
	p.state = ProcessingState{IsProcessing: true, Stage: StageGeneric, Status: status}
	return p.state
}

// SetStatus replaces the status line only.
func (p *processingStatusTracker) SetStatus(status string) ProcessingState {
	p.state.Status = status
	return p.state
}

func (p *processingStatusTracker) Clear() ProcessingState {
	p.state = ProcessingState{}
	return p.state
}

func (p *processingStatusTracker) State() ProcessingState {
	return p.state
}

// restore reinstates a state captured earlier.
func (p *processingStatusTracker) restore(state ProcessingState) ProcessingState {
	p.state = state
	return p.state
}
