package config

type WorkerKeyStruct struct {
	SessionLogQueue string
}

var WorkerKey = &WorkerKeyStruct{
	SessionLogQueue: "operator_session_log_queue",
}
