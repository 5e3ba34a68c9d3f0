package archive

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/docspace"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Job describes one finished collaboration whose room contents should be
// moved to a backup room and archived. The access token was resolved when the
// session ended; the worker never touches the directory.
type Job struct {
	MeetingID   string
	RoomID      string
	TenantID    int
	AccessToken string
}

// Worker drains a queue of backup jobs, decoupled from the request path that
// enqueues them. Ending a collaboration must never fail because backup did;
// the worker retries a bounded number of times and then only logs.
type Worker struct {
	client     docspace.Client
	jobs       chan Job
	done       chan struct{}
	attempts   int
	retryDelay time.Duration
}

func NewWorker(client docspace.Client, queueSize int) *Worker {
	return &Worker{
		client:     client,
		jobs:       make(chan Job, queueSize),
		done:       make(chan struct{}),
		attempts:   3,
		retryDelay: 10 * time.Second,
	}
}

// Enqueue hands a job to the worker without blocking the caller. A full queue
// drops the job; the room stays in the portal untouched, so nothing is lost
// beyond the tidy-up.
func (w *Worker) Enqueue(job Job) {
	select {
	case w.jobs <- job:
	default:
		logger.Error().Str("m", job.MeetingID).Str("room", job.RoomID).Msg("backup queue full, dropping job")
	}
}

// Run blocks draining the queue until Stop is called.
func (w *Worker) Run() {
	for {
		select {
		case <-w.done:
			return
		case job := <-w.jobs:
			w.process(job)
		}
	}
}

func (w *Worker) Stop() {
	close(w.done)
}

func (w *Worker) process(job Job) {
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.backup(context.Background(), job); err == nil {
			return
		}
		logger.Warn().Err(err).Str("m", job.MeetingID).Str("room", job.RoomID).
			Int("attempt", attempt).Msg("backup attempt failed")
		if attempt < w.attempts {
			time.Sleep(w.retryDelay)
		}
	}
	logger.Error().Err(err).Str("m", job.MeetingID).Str("room", job.RoomID).Msg("giving up on backup")
}

// backup moves the collaboration room's files into a folder of a dated backup
// room, then archives the collaboration room itself.
func (w *Worker) backup(ctx context.Context, job Job) error {
	backupRoomID, err := w.client.CreateRoom(ctx, job.AccessToken, "Zoom Meeting "+time.Now().UTC().Format("01/02/06"))
	if err != nil {
		return fmt.Errorf("create backup room: %w", err)
	}
	folderID, err := w.client.CreateFolder(ctx, job.AccessToken, backupRoomID, "Meeting "+job.MeetingID)
	if err != nil {
		return fmt.Errorf("create backup folder: %w", err)
	}
	files, err := w.client.ListRoomFiles(ctx, job.AccessToken, job.RoomID)
	if err != nil {
		return fmt.Errorf("list room files: %w", err)
	}
	if len(files) > 0 {
		ids := make([]string, len(files))
		for i, f := range files {
			ids[i] = f.ID
		}
		if err := w.client.MoveFiles(ctx, job.AccessToken, ids, folderID); err != nil {
			return fmt.Errorf("move files to backup: %w", err)
		}
	}
	if err := w.client.ArchiveRoom(ctx, job.AccessToken, job.RoomID); err != nil {
		return fmt.Errorf("archive room: %w", err)
	}
	return nil
}
