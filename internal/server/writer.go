package server

import (
	"sync"

	"github.com/tomerIQ713/File-Transfer/internal/model"
)

// WriteStore is the mutation half of the metadata database. Only the
// WriteSerializer ever calls these methods; handlers check their
// preconditions against a separate read handle and enqueue.
type WriteStore interface {
	AddUser(username, passwordHash string) error
	RemoveUser(username string) error
	AddFile(f model.File) error
	DeleteFile(name, uploader string) error
	ChangeFilePublicity(name, uploader string, newStatus *bool) error
	AddDownloadsToFile(name, uploader string, count int64) error
}

type writeOp int

const (
	opAddUser writeOp = iota
	opRemoveUser
	opAddFile
	opDeleteFile
	opChangePublicity
	opAddDownloads
)

func (op writeOp) String() string {
	switch op {
	case opAddUser:
		return "add_user"
	case opRemoveUser:
		return "remove_user"
	case opAddFile:
		return "add_file"
	case opDeleteFile:
		return "delete_file"
	case opChangePublicity:
		return "change_file_publicity"
	case opAddDownloads:
		return "add_downloads_to_file"
	default:
		return "unknown"
	}
}

// WriteJob is one pending mutation. Which fields are meaningful depends
// on the operation; use the constructors.
type WriteJob struct {
	op           writeOp
	username     string
	passwordHash string
	file         model.File
	fileName     string
	uploader     string
	newStatus    *bool
	count        int64
}

// AddUserJob records a new account.
func AddUserJob(username, passwordHash string) WriteJob {
	return WriteJob{op: opAddUser, username: username, passwordHash: passwordHash}
}

// RemoveUserJob removes an account; file rows cascade in the store.
func RemoveUserJob(username string) WriteJob {
	return WriteJob{op: opRemoveUser, username: username}
}

// AddFileJob records an uploaded file's metadata.
func AddFileJob(f model.File) WriteJob {
	return WriteJob{op: opAddFile, file: f}
}

// DeleteFileJob removes a file's metadata row.
func DeleteFileJob(name, uploader string) WriteJob {
	return WriteJob{op: opDeleteFile, fileName: name, uploader: uploader}
}

// ChangePublicityJob flips a file's visibility.
func ChangePublicityJob(name, uploader string) WriteJob {
	return WriteJob{op: opChangePublicity, fileName: name, uploader: uploader}
}

// AddDownloadsJob adds count to a file's download counter.
func AddDownloadsJob(name, uploader string, count int64) WriteJob {
	return WriteJob{op: opAddDownloads, fileName: name, uploader: uploader, count: count}
}

// WriteSerializer owns the write handle to the metadata database. A
// single consumer goroutine drains an unbounded FIFO queue, so writes
// apply in enqueue order and never interleave. Producers never block on
// completion; storage errors are logged and the consumer moves on.
type WriteSerializer struct {
	store  WriteStore
	logger Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []WriteJob
	closed bool

	done chan struct{}
}

// NewWriteSerializer creates a serializer over the given write handle.
// Call Start to launch the consumer.
func NewWriteSerializer(store WriteStore, logger Logger) *WriteSerializer {
	w := &WriteSerializer{
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the consumer goroutine.
func (w *WriteSerializer) Start() {
	go w.run()
}

// Enqueue appends a job to the queue and returns immediately. Jobs
// enqueued after Close are dropped with a warning.
func (w *WriteSerializer) Enqueue(job WriteJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("write job dropped after close", "op", job.op.String())
		return
	}
	w.queue = append(w.queue, job)
	w.cond.Broadcast()
}

// Flush blocks until every job enqueued before the call has been
// applied.
func (w *WriteSerializer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) > 0 {
		w.cond.Wait()
	}
}

// Close stops the consumer after the queue drains and waits for it to
// exit.
func (w *WriteSerializer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

func (w *WriteSerializer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.mu.Unlock()

		if err := w.apply(job); err != nil {
			w.logger.Error("write job failed", "op", job.op.String(), "error", err)
		}

		// The job leaves the queue only after it has applied, so Flush
		// waiters observe a truly drained queue.
		w.mu.Lock()
		w.queue = w.queue[1:]
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *WriteSerializer) apply(job WriteJob) error {
	switch job.op {
	case opAddUser:
		return w.store.AddUser(job.username, job.passwordHash)
	case opRemoveUser:
		return w.store.RemoveUser(job.username)
	case opAddFile:
		return w.store.AddFile(job.file)
	case opDeleteFile:
		return w.store.DeleteFile(job.fileName, job.uploader)
	case opChangePublicity:
		return w.store.ChangeFilePublicity(job.fileName, job.uploader, job.newStatus)
	case opAddDownloads:
		return w.store.AddDownloadsToFile(job.fileName, job.uploader, job.count)
	}
	return nil
}
