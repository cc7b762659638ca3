package domain

// Source tells what a producer captures. It travels in the engine appData
// bag and decides how new-producer broadcasts are framed.
type Source string

const (
	SourceMic         Source = "mic"
	SourceWebcam      Source = "webcam"
	SourceScreen      Source = "screen"
	SourceScreenAudio Source = "screen-audio"
)

// Direction of a transport relative to the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}
