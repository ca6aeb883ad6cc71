package domain

// Terminal failure texts. These are the only failure strings a requester
// ever sees.
const (
	MsgNotFound        = "could not find track info"
	MsgDownloadFailed  = "download failed from all sources"
	MsgPaymentRequired = "payment required"
	MsgProcessingError = "processing error, try again"
)

// Progress texts.
const (
	MsgQueued      = "Queued, position %d"
	MsgResolving   = "Searching for track..."
	MsgDownloading = "Downloading: %s - %s..."
	MsgDelivering  = "Uploading..."
)
