// Package connect provides the Connect RPC surface of the player.
//
// Messages are google.protobuf.Struct values, so the service needs no
// generated code; arguments are decoded with mapstructure.
package connect

// PlayerServiceName is the fully-qualified name of the PlayerService service.
const PlayerServiceName = "tilawa.v1.PlayerService"

// Procedure paths of PlayerService.
const (
	PlayerServiceStartProcedure           = "/tilawa.v1.PlayerService/Start"
	PlayerServicePlayProcedure            = "/tilawa.v1.PlayerService/Play"
	PlayerServicePauseProcedure           = "/tilawa.v1.PlayerService/Pause"
	PlayerServiceStopProcedure            = "/tilawa.v1.PlayerService/Stop"
	PlayerServiceNextProcedure            = "/tilawa.v1.PlayerService/Next"
	PlayerServicePreviousProcedure        = "/tilawa.v1.PlayerService/Previous"
	PlayerServiceSetRateProcedure         = "/tilawa.v1.PlayerService/SetRate"
	PlayerServiceSeekProcedure            = "/tilawa.v1.PlayerService/Seek"
	PlayerServiceSelectChapterProcedure   = "/tilawa.v1.PlayerService/SelectChapter"
	PlayerServiceSelectReciterProcedure   = "/tilawa.v1.PlayerService/SelectReciter"
	PlayerServiceToggleAmbienceProcedure  = "/tilawa.v1.PlayerService/ToggleAmbience"
	PlayerServiceGetStatusProcedure       = "/tilawa.v1.PlayerService/GetStatus"
	PlayerServiceListChaptersProcedure    = "/tilawa.v1.PlayerService/ListChapters"
	PlayerServiceSubscribeStatusProcedure = "/tilawa.v1.PlayerService/SubscribeStatus"
)
