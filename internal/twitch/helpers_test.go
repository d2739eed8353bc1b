package twitch

import logx "unfollowbot/pkg/logx"

func nopLogger() logx.Logger { return logx.Nop() }
