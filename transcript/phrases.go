package transcript

import "fmt"

// Fixed event phrases. The analyzer matches on these literals; do not reword them.
const (
	PhraseConnected    = "成功连接到服务器"
	PhraseSend         = "发送: "
	PhraseRecv         = "接收: "
	PhraseSendError    = "发送错误："
	PhraseRecvError    = "接收错误："
	PhraseConnError    = "连接错误："
	PhraseNoData       = "无数据输入"
	PhraseErrorPresent = "存在错误"
	PhraseCycleDone    = "完成一个完整的命令循环，从头开始新的循环"
	PhraseLoadFailed   = "加载命令失败："
	PhraseInterrupted  = "程序被用户中断"
	PhraseCommandAdded = "添加缺失的关键命令: "
	PhraseCommandMoved = "调整关键命令位置: "
	PhraseReloaded     = "重新加载了 %d 条命令"
)

// Connected reports a successful connection to host:port.
func Connected(host string, port int) string {
	return fmt.Sprintf("%s %s:%d", PhraseConnected, host, port)
}

// Refused reports a refused connection and the seconds until the next attempt.
func Refused(retrySeconds int) string {
	return fmt.Sprintf("连接被拒绝，%d秒后重试...", retrySeconds)
}

// ConnError reports a connection failure.
func ConnError(err error) string { return PhraseConnError + err.Error() }

// SendError reports a failed command write.
func SendError(err error) string { return PhraseSendError + err.Error() }

// RecvError reports a failed read.
func RecvError(err error) string { return PhraseRecvError + err.Error() }

// Send records a command written to the device.
func Send(command string) string { return PhraseSend + command }

// Recv records a command echo line received from the device.
func Recv(line string) string { return PhraseRecv + line }

// Reloaded reports the size of the command list loaded for a new connection.
func Reloaded(n int) string { return fmt.Sprintf(PhraseReloaded, n) }

// DisconnectIndex reports the command cursor at the time a send failed.
func DisconnectIndex(idx int) string { return fmt.Sprintf("断开连接时的命令索引: %d", idx) }

// LoadFailed reports an unreadable command file.
func LoadFailed(err error) string { return PhraseLoadFailed + err.Error() }

// CommandAdded reports a critical command inserted into the list.
func CommandAdded(cmd string) string { return PhraseCommandAdded + cmd }

// CommandMoved reports a critical command moved into the bring-up head of the list.
func CommandMoved(cmd string) string { return PhraseCommandMoved + cmd }

// ListResized reports a command count changed by critical command pinning.
func ListResized(from, to int) string {
	return fmt.Sprintf("命令列表调整: 从 %d 条调整为 %d 条", from, to)
}
