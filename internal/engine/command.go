// Package engine describes the command and event surface of the game client
// that renders the café. Commands are fire-and-forget; events arrive later
// and asynchronously.
package engine

import "focustown/backend/internal/model"

type CommandType string

const (
	CmdStartSession       CommandType = "start_session"
	CmdEndSession         CommandType = "end_session"
	CmdCancelSetup        CommandType = "cancel_setup"
	CmdChangeScene        CommandType = "change_scene"
	CmdSetUserCharacter   CommandType = "set_user_character"
	CmdSpawnRemotePlayer  CommandType = "spawn_remote_player"
	CmdUpdateRemotePlayer CommandType = "update_remote_player"
	CmdRemoveRemotePlayer CommandType = "remove_remote_player"
	CmdSwitchCamera       CommandType = "switch_camera"
)

type CameraMode string

const (
	CameraOverview    CameraMode = "overview"
	CameraSeated      CameraMode = "seated"
	CameraSetup       CameraMode = "setup"
	CameraThirdPerson CameraMode = "third_person"
	CameraToggle      CameraMode = "toggle"
)

func (m CameraMode) Valid() bool {
	switch m {
	case CameraOverview, CameraSeated, CameraSetup, CameraThirdPerson, CameraToggle:
		return true
	}
	return false
}

// Appearance is an opaque character descriptor understood by the game client.
type Appearance map[string]string

type Command struct {
	Type        CommandType             `json:"-"`
	Scene       string                  `json:"scene,omitempty"`
	Camera      CameraMode              `json:"camera,omitempty"`
	Character   Appearance              `json:"character,omitempty"`
	PlayerID    string                  `json:"playerId,omitempty"`
	DisplayName string                  `json:"displayName,omitempty"`
	State       model.ParticipantStatus `json:"state,omitempty"`
	SpotID      string                  `json:"spotId,omitempty"`
}

// Commander delivers commands to the engine. Send never blocks on the engine
// and never reports failure; undeliverable commands are dropped.
type Commander interface {
	Send(cmd Command)
}

type CommanderFunc func(cmd Command)

func (f CommanderFunc) Send(cmd Command) { f(cmd) }

// Discard drops every command.
var Discard Commander = CommanderFunc(func(Command) {})

func StartSession() Command { return Command{Type: CmdStartSession} }

func EndSession() Command { return Command{Type: CmdEndSession} }

func CancelSetup() Command { return Command{Type: CmdCancelSetup} }

func ChangeScene(name string) Command { return Command{Type: CmdChangeScene, Scene: name} }

func SetUserCharacter(a Appearance) Command {
	return Command{Type: CmdSetUserCharacter, Character: a}
}

func SwitchCamera(mode CameraMode) Command { return Command{Type: CmdSwitchCamera, Camera: mode} }

func SpawnRemotePlayer(id string, p model.ParticipantState) Command {
	return Command{
		Type:        CmdSpawnRemotePlayer,
		PlayerID:    id,
		DisplayName: p.DisplayName,
		State:       p.State,
		SpotID:      p.SpotID,
	}
}

func UpdateRemotePlayer(id string, p model.ParticipantState) Command {
	return Command{Type: CmdUpdateRemotePlayer, PlayerID: id, State: p.State, SpotID: p.SpotID}
}

func RemoveRemotePlayer(id string) Command {
	return Command{Type: CmdRemoveRemotePlayer, PlayerID: id}
}
