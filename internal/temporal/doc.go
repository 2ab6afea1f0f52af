// Package temporal runs research jobs as Temporal workflows.
//
// It is the durable alternative to the in-process and Kafka queues: the
// Dispatcher satisfies queue.Enqueuer by starting one ResearchWorkflow per
// job, and a worker built with NewWorker executes that workflow's single
// activity, ProcessTopicActivity, which hands the topic to the orchestrator.
//
// # Dispatching
//
//	c, err := temporal.NewClient(cfg.Temporal, logger)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	dispatcher := temporal.NewDispatcher(c, cfg.Temporal.TaskQueue, metrics, logger)
//	err = dispatcher.Enqueue(ctx, queue.Job{TopicID: id})
//
// # Executing
//
//	w, err := temporal.NewWorker(c, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue), orchestrator)
//	if err != nil {
//	    return err
//	}
//	err = temporal.StartWorker(ctx, w)
//
// Claims and attempt fencing stay in the database, so a workflow started for
// a topic that is already finished or owned by a live attempt completes
// without doing any work. Infrastructure failures surface as activity
// errors and are retried by the activity retry policy.
package temporal
