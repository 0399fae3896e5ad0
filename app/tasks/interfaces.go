package tasks

// TaskSchedulerInterface defines the interface for background task
// scheduling. The main application starts and stops it; the API layer
// enqueues on-demand synchronization through it.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
