package provider

// State is the normalized status of a generation task. Provider responses
// use a variety of spellings and cases; PollTask maps all of them onto
// these three values.
type State string

const (
	// StateProcessing indicates the task is still being generated.
	StateProcessing State = "processing"
	// StateSucceeded indicates the task finished and an asset is available.
	StateSucceeded State = "succeeded"
	// StateFailed indicates the task ended in error.
	StateFailed State = "failed"
)

// IsTerminal returns true if the state is final.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// StartTaskInput contains the parameters for starting a generation task.
type StartTaskInput struct {
	Model       string
	Prompt      string
	ImageRef    string
	Resolution  string
	DurationSec int
}

// PollResult contains the normalized result of polling a task.
type PollResult struct {
	State    State
	AssetURL string
	Message  string
}

// startRequest is the wire shape of a task-start request.
type startRequest struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Image      string `json:"image"`
	Resolution string `json:"resolution"`
	Duration   int    `json:"duration"`
}

// taskEnvelope is the tolerant decode target for provider responses. The
// provider's success envelope is not uniform: the task ID and status may
// live at the top level, under "data", or under "task", and the ID key may
// be "id", "taskId" or "task_id". All accepted shapes are enumerated here
// and covered by fixtures in the tests.
type taskEnvelope struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"taskId"`
	TaskIDAlt string          `json:"task_id"`
	Status    string          `json:"status"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	VideoURL  string          `json:"videoUrl"`
	VideoAlt  string          `json:"video_url"`
	Data      *taskEnvelope   `json:"data"`
	Task      *taskEnvelope   `json:"task"`
	Output    *outputEnvelope `json:"output"`
	Works     []workEnvelope  `json:"works"`
}

// outputEnvelope holds asset locations nested under "output".
type outputEnvelope struct {
	VideoURL string         `json:"videoUrl"`
	VideoAlt string         `json:"video_url"`
	URL      string         `json:"url"`
	Works    []workEnvelope `json:"works"`
}

// workEnvelope is one entry of a "works" list, another place some provider
// responses park the finished asset URL.
type workEnvelope struct {
	URL      string `json:"url"`
	VideoURL string `json:"videoUrl"`
}

// taskID extracts the task handle from any of the accepted locations.
func (e *taskEnvelope) taskID() string {
	if e == nil {
		return ""
	}
	for _, id := range []string{e.TaskID, e.TaskIDAlt, e.ID} {
		if id != "" {
			return id
		}
	}
	if id := e.Data.taskID(); id != "" {
		return id
	}
	return e.Task.taskID()
}

// status extracts the raw status string from any of the accepted locations.
func (e *taskEnvelope) status() string {
	if e == nil {
		return ""
	}
	if e.Status != "" {
		return e.Status
	}
	if s := e.Data.status(); s != "" {
		return s
	}
	return e.Task.status()
}

// assetURL extracts the finished asset URL from any of the accepted locations.
func (e *taskEnvelope) assetURL() string {
	if e == nil {
		return ""
	}
	for _, u := range []string{e.VideoURL, e.VideoAlt} {
		if u != "" {
			return u
		}
	}
	if e.Output != nil {
		for _, u := range []string{e.Output.VideoURL, e.Output.VideoAlt, e.Output.URL} {
			if u != "" {
				return u
			}
		}
		for _, w := range e.Output.Works {
			if w.URL != "" {
				return w.URL
			}
			if w.VideoURL != "" {
				return w.VideoURL
			}
		}
	}
	for _, w := range e.Works {
		if w.URL != "" {
			return w.URL
		}
		if w.VideoURL != "" {
			return w.VideoURL
		}
	}
	if u := e.Data.assetURL(); u != "" {
		return u
	}
	return e.Task.assetURL()
}

// errorMessage extracts the error text from any of the accepted locations.
func (e *taskEnvelope) errorMessage() string {
	if e == nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	if msg := e.Data.errorMessage(); msg != "" {
		return msg
	}
	return e.Task.errorMessage()
}
