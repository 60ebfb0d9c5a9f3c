package chat

// Terminal messages sent when a conversation round cannot produce a
// model answer.
const (
	MsgBackendUnavailable = "I couldn't reach the model right now. Please try again in a moment."
	MsgBackendBusy        = "The model is overloaded on every available credential. Please try again later."
	MsgFailed             = "Something went wrong while generating a response. Please try again."
	MsgBlockedSafety      = "I can't answer that: the response was blocked by the safety filter."
	MsgBlockedRecitation  = "I can't answer that: the response was blocked for reciting protected content."
	MsgEmptyResponse      = "The model returned an empty response. Please try rephrasing."
	MsgRoundBudget        = "I couldn't finish within the allowed number of tool rounds. Please try a simpler request."
	MsgCanceled           = "The request was canceled."
)

// statusMessages are the best-effort progress notes sent while a tool
// runs.
var statusMessages = map[string]string{
	"get_chat_history":       "Reading chat history…",
	"view_youtube_video":     "Watching the video…",
	"download_youtube_video": "Downloading the video…",
	"run_search_specialist":  "Searching the web…",
	"generate_photo":         "Generating the image…",
	"generate_video":         "Generating the video, this can take a few minutes…",
	"fetch_webpage":          "Reading the page…",
}

func statusFor(tool string) string {
	if msg, ok := statusMessages[tool]; ok {
		return msg
	}
	return "Working on it…"
}
