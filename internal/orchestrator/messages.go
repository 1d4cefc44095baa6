package orchestrator

// Bot messages announcing each stage.
const (
	msgDocumentsStage   = "Great! Let's start with your identity document. Capture the front and back, or attach photos if your camera isn't available."
	msgFaceStage        = "✓ Documents uploaded! Next, let's verify your face with a liveness check."
	msgFingerprintStage = "✓ Face verification complete! Finally, let's capture your fingerprint."
	msgConfirmStage     = "🎉 Excellent! All verification steps are complete. Please review your details before confirming."
	msgEditStage        = "No problem. Let's go through the capture steps again."
	msgComplete         = "Thank you! Your details have been submitted for review."
)

// Notices shown on the surface.
const (
	noticeEmptyRecording = "We couldn't record the video. Please try again."
	noticeCaptureFailed  = "Something went wrong with the capture. Please try again."
	noticeUnsupported    = "That file isn't a supported image. Please attach a JPEG or PNG photo."
)
