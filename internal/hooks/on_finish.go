// Package hooks contains hook implementations.
package hooks

import (
	"github.com/google/uuid"

	"github.com/bluenviron/mediacompose/internal/externalcmd"
	"github.com/bluenviron/mediacompose/internal/logger"
)

// OnFinishParams are the parameters of OnFinish.
type OnFinishParams struct {
	Logger          logger.Writer
	ExternalCmdPool *externalcmd.Pool
	RunOnComplete   string
	RunOnFailure    string
	Output          string
	RunID           uuid.UUID
	// nil when the composition completed.
	Err error
}

// OnFinish launches runOnComplete or runOnFailure.
// It returns the launched command, or nil.
func OnFinish(params OnFinishParams) *externalcmd.Cmd {
	name := "runOnComplete"
	cmdstr := params.RunOnComplete

	env := externalcmd.Environment{
		"MCP_OUTPUT": params.Output,
		"MCP_RUN_ID": params.RunID.String(),
	}

	if params.Err != nil {
		name = "runOnFailure"
		cmdstr = params.RunOnFailure
		env["MCP_ERROR"] = params.Err.Error()
	}

	if cmdstr == "" {
		return nil
	}

	params.Logger.Log(logger.Info, "%s command launched", name)

	return externalcmd.NewCmd(
		params.ExternalCmdPool,
		cmdstr,
		env,
		func(err error) {
			if err != nil {
				params.Logger.Log(logger.Warn, "%s command failed: %v", name, err)
			} else {
				params.Logger.Log(logger.Debug, "%s command exited", name)
			}
		})
}
