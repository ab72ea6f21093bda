package remote

// Commands understood by every station. The names are path segments under
// the station's HTTPS root.
const (
	CmdCheckOnlineStatus      = "CheckOnlineStatus"
	CmdTestLogin              = "TestLogin"
	CmdGetHostName            = "GetHostName"
	CmdGetSystemData          = "GetSystemData"
	CmdGetConfigurationReport = "GetConfigurationReport"
	CmdGetSensorReadings      = "GetSensorReadings"
	CmdGetSensorsLatency      = "GetSensorsLatency"
	CmdGetIntervalReadings    = "GetIntervalSensorReadings"

	CmdGetSQLDBSize        = "GetSQLDBSize"
	CmdDownloadSQLDatabase = "DownloadSQLDatabase"
	CmdGetZippedLogsSize   = "GetZippedLogsSize"
	CmdDownloadZippedLogs  = "DownloadZippedLogs"
	CmdDownloadEverything  = "DownloadZippedEverything"

	CmdSetPrimaryConfiguration = "SetPrimaryConfiguration"
	CmdRestartServices         = "RestartServices"
)

// OnlineReply is the body a healthy station returns for CheckOnlineStatus and TestLogin.
const OnlineReply = "OK"

// PushCommands lists the commands that may be fanned out with POST.
var PushCommands = map[string]bool{
	CmdSetPrimaryConfiguration: true,
	CmdRestartServices:         true,
}
