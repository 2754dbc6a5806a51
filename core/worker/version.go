package worker

// Version of the queue worker.
const Version = "0.2.0"
