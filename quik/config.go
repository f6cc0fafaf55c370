package quik

import (
	"github.com/x5500/QUIKSharp-sub000/engine"
	"github.com/x5500/QUIKSharp-sub000/transport"
	"github.com/xyths/hs"
)

type Config struct {
	Transport transport.Config   `json:"transport"`
	Engine    engine.Config      `json:"engine"`
	Log       hs.LogConf         `json:"log"`
	Mongo     *hs.MongoConf      `json:"mongo,omitempty"`
	Robots    []hs.BroadcastConf `json:"robots,omitempty"`
}
