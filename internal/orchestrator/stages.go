package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for attached documents
	_ "image/png"

	"verifyflow/internal/capture"
	"verifyflow/internal/media"
	"verifyflow/internal/submission"
	"verifyflow/pkg/domain"
	dErrors "verifyflow/pkg/domain-errors"
	audit "verifyflow/pkg/platform/audit"
)

// captureRun is one running capture. It holds the context that CloseSurface,
// Reset and Close cancel.
type captureRun struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	session    domain.SessionID
}

// beginCapture reserves the capture slot for a stage.
func (o *Orchestrator) beginCapture(ctx context.Context, op string, want State) (*captureRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stageReadyLocked(op, want); err != nil {
		return nil, err
	}
	if o.run != nil {
		return nil, ErrCaptureInProgress
	}
	cctx, cancel := context.WithCancel(ctx)
	run := &captureRun{ctx: cctx, cancel: cancel, generation: o.generation, session: o.sessionID}
	o.run = run
	o.notice = ""
	o.status = ""
	return run, nil
}

// endCapture frees the capture slot if run still owns it. A run that was
// superseded after a reset must not release a newer capture's stream.
func (o *Orchestrator) endCapture(run *captureRun) {
	run.cancel()
	o.mu.Lock()
	owner := o.run == run
	if owner {
		o.run = nil
		o.status = ""
	}
	o.mu.Unlock()
	if owner {
		o.negotiator.Release()
	}
	o.notify()
}

// commit stores artifacts unless the capture was aborted in the meantime.
func (o *Orchestrator) commit(run *captureRun, stage State, artifacts ...*capture.Artifact) error {
	o.mu.Lock()
	if run.ctx.Err() != nil || o.generation != run.generation || o.state != stage {
		o.mu.Unlock()
		return ErrCaptureAborted
	}
	kinds := make([]capture.Kind, 0, len(artifacts))
	for _, a := range artifacts {
		o.slots.Put(a)
		kinds = append(kinds, a.Kind)
		o.metrics.IncCapture(string(a.Kind), true)
	}
	o.mu.Unlock()

	o.emit(run.ctx, run.session, audit.EventArtifactCaptured, stage, kinds, "ok", string(artifacts[0].Source))
	return nil
}

// captureFailed turns a capture error into a notice. Timing errors are
// silent: the stream was not ready and nothing changed.
func (o *Orchestrator) captureFailed(run *captureRun, stage State, kind capture.Kind, uploadAvailable bool, err error) error {
	if errors.Is(err, capture.ErrStreamNotReady) {
		o.logger.DebugContext(run.ctx, "capture skipped, stream not ready", "kind", string(kind))
		return err
	}
	if run.ctx.Err() != nil {
		return ErrCaptureAborted
	}

	o.metrics.IncCapture(string(kind), false)
	var acqErr *media.AcquisitionError
	notice := noticeCaptureFailed
	action := audit.EventCaptureFailed
	switch {
	case errors.As(err, &acqErr):
		notice = acqErr.Remedy(uploadAvailable)
		action = audit.EventAcquisitionFault
	case errors.Is(err, capture.ErrEmptyRecording):
		notice = noticeEmptyRecording
	}

	o.mu.Lock()
	if o.generation == run.generation {
		o.notice = notice
	}
	o.mu.Unlock()

	o.logger.WarnContext(run.ctx, "capture failed", "kind", string(kind), "stage", stage.String(), "error", err)
	o.emit(run.ctx, run.session, action, stage, []capture.Kind{kind}, "failed", err.Error())
	return err
}

// acquireReady opens a stream and waits for its first frame.
func (o *Orchestrator) acquireReady(run *captureRun, facing media.Facing, quality media.Quality, audio bool) (media.Stream, error) {
	var (
		stream media.Stream
		err    error
	)
	if audio {
		stream, err = o.negotiator.AcquireWithAudio(run.ctx, facing, quality)
	} else {
		stream, err = o.negotiator.Acquire(run.ctx, facing, quality)
	}
	if err != nil {
		return nil, err
	}
	if err := media.WaitReady(run.ctx, stream, o.config.WarmupTimeout); err != nil {
		return nil, err
	}
	return stream, nil
}

// CaptureDocument photographs one side of the identity document with the
// rear camera.
func (o *Orchestrator) CaptureDocument(ctx context.Context, side capture.Kind) (*capture.Artifact, error) {
	if side != capture.KindDocumentFront && side != capture.KindDocumentBack {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s is not a document side", side))
	}
	run, err := o.beginCapture(ctx, "document capture", StateDocuments)
	if err != nil {
		return nil, err
	}
	defer o.endCapture(run)

	stream, err := o.acquireReady(run, media.FacingEnvironment, media.QualityHigh, false)
	if err != nil {
		return nil, o.captureFailed(run, StateDocuments, side, true, err)
	}
	art, err := o.docs.Capture(stream, false)
	if err != nil {
		return nil, o.captureFailed(run, StateDocuments, side, true, err)
	}
	art.Kind = side
	if err := o.commit(run, StateDocuments, art); err != nil {
		return nil, err
	}
	return art, nil
}

// AttachDocument stores a document photo supplied as a file, for when the
// camera cannot be used. The data must be a JPEG or PNG image.
func (o *Orchestrator) AttachDocument(ctx context.Context, side capture.Kind, data []byte) (*capture.Artifact, error) {
	if side != capture.KindDocumentFront && side != capture.KindDocumentBack {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s is not a document side", side))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		o.mu.Lock()
		o.notice = noticeUnsupported
		o.mu.Unlock()
		o.notify()
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "attached file is not a supported image")
	}

	run, err := o.beginCapture(ctx, "document attach", StateDocuments)
	if err != nil {
		return nil, err
	}
	defer o.endCapture(run)

	art := &capture.Artifact{
		Kind:       side,
		Data:       bytes.Clone(data),
		MIMEType:   "image/" + format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Source:     capture.SourceUpload,
		CapturedAt: o.clock.Now(),
	}
	if err := o.commit(run, StateDocuments, art); err != nil {
		return nil, err
	}
	return art, nil
}

// CaptureFace records the liveness clip with the front camera and keeps a
// mirrored still as the selfie.
func (o *Orchestrator) CaptureFace(ctx context.Context) (*capture.Recording, error) {
	run, err := o.beginCapture(ctx, "face capture", StateFace)
	if err != nil {
		return nil, err
	}
	defer o.endCapture(run)

	stream, err := o.acquireReady(run, media.FacingUser, media.QualityStandard, true)
	if err != nil {
		return nil, o.captureFailed(run, StateFace, capture.KindSelfie, false, err)
	}
	rec, err := o.recorder.Record(run.ctx, stream, capture.RecordOptions{
		Duration:  o.config.RecordDuration,
		Timeline:  o.config.Timeline,
		Countdown: o.config.Countdown,
		Mirror:    true,
		OnStatus:  func(s string) { o.setStatus(run, s) },
	})
	if err != nil {
		return nil, o.captureFailed(run, StateFace, capture.KindLivenessVideo, false, err)
	}
	if err := o.commit(run, StateFace, rec.Still, rec.Video); err != nil {
		return nil, err
	}
	return rec, nil
}

// CaptureFingerprint photographs the fingertip with the rear camera.
func (o *Orchestrator) CaptureFingerprint(ctx context.Context) (*capture.Artifact, error) {
	run, err := o.beginCapture(ctx, "fingerprint capture", StateFingerprint)
	if err != nil {
		return nil, err
	}
	defer o.endCapture(run)

	stream, err := o.acquireReady(run, media.FacingEnvironment, media.QualityHigh, false)
	if err != nil {
		return nil, o.captureFailed(run, StateFingerprint, capture.KindFingerprint, false, err)
	}
	art, err := o.docs.Capture(stream, false)
	if err != nil {
		return nil, o.captureFailed(run, StateFingerprint, capture.KindFingerprint, false, err)
	}
	art.Kind = capture.KindFingerprint
	if err := o.commit(run, StateFingerprint, art); err != nil {
		return nil, err
	}
	return art, nil
}

func (o *Orchestrator) setStatus(run *captureRun, s string) {
	o.mu.Lock()
	stale := o.generation != run.generation || run.ctx.Err() != nil
	if !stale {
		o.status = s
	}
	o.mu.Unlock()
	if !stale {
		o.notify()
	}
}

// SubmitDocuments uploads both document sides and advances to Face.
func (o *Orchestrator) SubmitDocuments(ctx context.Context) error {
	return o.submitStage(ctx, stageSubmit{
		op:       "document submit",
		stage:    StateDocuments,
		event:    EventDocumentsSubmitted,
		required: []capture.Kind{capture.KindDocumentFront, capture.KindDocumentBack},
		missing:  "capture both sides of your document first",
		message:  msgFaceStage,
	})
}

// SubmitFace uploads the selfie and, when present, the liveness clip, and
// advances to Fingerprint.
func (o *Orchestrator) SubmitFace(ctx context.Context) error {
	return o.submitStage(ctx, stageSubmit{
		op:       "face submit",
		stage:    StateFace,
		event:    EventFaceSubmitted,
		required: []capture.Kind{capture.KindSelfie},
		optional: []capture.Kind{capture.KindLivenessVideo},
		missing:  "complete the face capture first",
		message:  msgFingerprintStage,
	})
}

// SubmitFingerprint uploads the fingerprint and advances to
// AwaitingConfirmation, which fetches the collected data.
func (o *Orchestrator) SubmitFingerprint(ctx context.Context) error {
	return o.submitStage(ctx, stageSubmit{
		op:       "fingerprint submit",
		stage:    StateFingerprint,
		event:    EventFingerprintSubmitted,
		required: []capture.Kind{capture.KindFingerprint},
		missing:  "capture your fingerprint first",
		message:  msgConfirmStage,
	})
}

type stageSubmit struct {
	op       string
	stage    State
	event    Event
	required []capture.Kind
	optional []capture.Kind
	missing  string
	message  string
}

// submitStage starts the upload and schedules the advance without waiting
// for it. Slots already submitted, or still uploading, are not sent again.
func (o *Orchestrator) submitStage(ctx context.Context, s stageSubmit) error {
	o.mu.Lock()
	if err := o.stageReadyLocked(s.op, s.stage); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.run != nil {
		o.mu.Unlock()
		return ErrCaptureInProgress
	}
	for _, k := range s.required {
		if !o.slots.Has(k) {
			o.mu.Unlock()
			return missingArtifacts(s.missing)
		}
	}

	var (
		artifacts []*capture.Artifact
		revisions = make(map[capture.Kind]int)
		fresh     bool
	)
	for _, k := range append(append([]capture.Kind{}, s.required...), s.optional...) {
		slot := o.slots.Get(k)
		if slot.Artifact == nil {
			continue
		}
		artifacts = append(artifacts, slot.Artifact)
		revisions[k] = slot.Revision
		if slot.State == capture.SlotCaptured && o.inflight[k] != slot.Revision {
			fresh = true
		}
	}
	sid := o.sessionID
	if fresh {
		for k, rev := range revisions {
			o.inflight[k] = rev
		}
		o.track(o.submitter.Submit(sid, artifacts...), revisions)
	}
	o.notice = ""
	o.scheduleAdvanceLocked(ctx, s.event, s.message)
	o.mu.Unlock()

	if !fresh {
		o.logger.DebugContext(ctx, "stage already submitted, advancing", "stage", s.stage.String())
	}
	o.notify()
	return nil
}

// track applies an upload outcome to the slots when it arrives.
func (o *Orchestrator) track(outcomes <-chan submission.Outcome, revisions map[capture.Kind]int) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		out, ok := <-outcomes
		if !ok {
			return
		}
		ctx := o.lifeCtx
		if out.Stale {
			o.logger.DebugContext(ctx, "ignoring stale upload outcome", "session_id", out.SessionID.String(), "endpoint", string(out.Endpoint))
			return
		}

		o.mu.Lock()
		if out.SessionID != o.sessionID {
			o.mu.Unlock()
			return
		}
		for k, rev := range revisions {
			o.slots.MarkSubmitted(k, rev, out.Delivered())
			if o.inflight[k] == rev {
				delete(o.inflight, k)
			}
		}
		if out.Err != nil {
			o.notice = out.Err.UserMessage()
		}
		stage := o.state
		o.mu.Unlock()

		if out.Err != nil {
			o.emit(ctx, out.SessionID, audit.EventSubmissionFailed, stage, out.Kinds, "failed", out.Err.Error())
		} else {
			o.emit(ctx, out.SessionID, audit.EventSubmissionOK, stage, out.Kinds, "ok", "")
		}
		o.notify()
	}()
}

// scheduleAdvanceLocked applies e after the configured delay. Reset and
// Close cancel it.
func (o *Orchestrator) scheduleAdvanceLocked(ctx context.Context, e Event, message string) {
	if o.config.AdvanceDelay <= 0 {
		o.advanceLocked(ctx, e, message)
		return
	}
	gen := o.generation
	o.pending = o.clock.AfterFunc(o.config.AdvanceDelay, func() {
		o.mu.Lock()
		if o.generation != gen || o.pending == nil {
			o.mu.Unlock()
			return
		}
		o.pending = nil
		o.advanceLocked(o.lifeCtx, e, message)
		o.mu.Unlock()
		o.notify()
	})
}

// advanceLocked applies e and announces the new stage. Entering
// AwaitingConfirmation starts the collected-data fetch.
func (o *Orchestrator) advanceLocked(ctx context.Context, e Event, message string) {
	if !o.applyLocked(ctx, e) {
		return
	}
	sid := o.sessionID
	state := o.state
	o.conv.Append(message)
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		o.emit(ctx, sid, audit.EventStageEntered, state, nil, "", "")
	}()
	if state == StateAwaitingConfirmation {
		o.startFetchLocked()
	}
}

func (o *Orchestrator) startFetchLocked() {
	gen := o.generation
	sid := o.sessionID
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		_ = o.fetch(o.lifeCtx, gen, sid)
	}()
}

// RetryConfirmation fetches the collected data again after a failure.
func (o *Orchestrator) RetryConfirmation(ctx context.Context) error {
	o.mu.Lock()
	if err := o.stageReadyLocked("confirmation retry", StateAwaitingConfirmation); err != nil {
		o.mu.Unlock()
		return err
	}
	gen := o.generation
	sid := o.sessionID
	o.notice = ""
	o.mu.Unlock()
	o.notify()
	return o.fetch(ctx, gen, sid)
}

func (o *Orchestrator) fetch(ctx context.Context, gen uint64, sid domain.SessionID) error {
	_, err := o.gate.Fetch(ctx, sid)

	o.mu.Lock()
	current := o.generation == gen && o.state == StateAwaitingConfirmation
	if current && err != nil {
		var fe interface{ UserMessage() string }
		if errors.As(err, &fe) {
			o.notice = fe.UserMessage()
		}
	}
	o.mu.Unlock()
	if !current {
		return errSuperseded
	}

	if err != nil {
		o.emit(ctx, sid, audit.EventConfirmationFailed, StateAwaitingConfirmation, nil, "failed", err.Error())
	} else {
		o.emit(ctx, sid, audit.EventConfirmationFetched, StateAwaitingConfirmation, nil, "ok", "")
	}
	o.notify()
	return err
}
