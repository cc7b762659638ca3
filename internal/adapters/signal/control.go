package signal

func (ctl *Controller) handlePing(c *Conn, req request) {
	ctl.reply(c, req, map[string]bool{"pong": true})
}
