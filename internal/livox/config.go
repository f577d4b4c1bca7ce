package livox

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/viper"
)

// Default ports on the sensor and on the host.
const (
	DiscoveryPort = 56000

	LidarCmdPort   = 56100
	LidarPushPort  = 56200
	LidarPointPort = 56300
	LidarIMUPort   = 56400
	LidarLogPort   = 56500

	HostCmdPort   = 56101
	HostPushPort  = 56201
	HostPointPort = 56301
	HostIMUPort   = 56401
	HostLogPort   = 56501
)

// LidarNetInfo lists the ports the sensor sends from and listens on.
type LidarNetInfo struct {
	CmdDataPort   int `mapstructure:"cmd_data_port"`
	PushMsgPort   int `mapstructure:"push_msg_port"`
	PointDataPort int `mapstructure:"point_data_port"`
	IMUDataPort   int `mapstructure:"imu_data_port"`
	LogDataPort   int `mapstructure:"log_data_port"`
}

// HostNetInfo lists the host addresses the runtime binds.
type HostNetInfo struct {
	CmdDataIP     string `mapstructure:"cmd_data_ip"`
	CmdDataPort   int    `mapstructure:"cmd_data_port"`
	PushMsgIP     string `mapstructure:"push_msg_ip"`
	PushMsgPort   int    `mapstructure:"push_msg_port"`
	PointDataIP   string `mapstructure:"point_data_ip"`
	PointDataPort int    `mapstructure:"point_data_port"`
	IMUDataIP     string `mapstructure:"imu_data_ip"`
	IMUDataPort   int    `mapstructure:"imu_data_port"`
	LogDataIP     string `mapstructure:"log_data_ip"`
	LogDataPort   int    `mapstructure:"log_data_port"`
}

// Config is the MID360 section of the sensor runtime configuration file.
type Config struct {
	Lidar LidarNetInfo `mapstructure:"lidar_net_info"`
	Host  HostNetInfo  `mapstructure:"host_net_info"`
}

// DefaultConfig returns the factory port layout with the host listening
// on all interfaces.
func DefaultConfig() Config {
	return Config{
		Lidar: LidarNetInfo{
			CmdDataPort:   LidarCmdPort,
			PushMsgPort:   LidarPushPort,
			PointDataPort: LidarPointPort,
			IMUDataPort:   LidarIMUPort,
			LogDataPort:   LidarLogPort,
		},
		Host: HostNetInfo{
			CmdDataPort:   HostCmdPort,
			PushMsgPort:   HostPushPort,
			PointDataPort: HostPointPort,
			IMUDataPort:   HostIMUPort,
			LogDataPort:   HostLogPort,
		},
	}
}

// LoadConfig reads the JSON configuration at path. Keys missing from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read sensor config %s: %w", path, err)
	}
	if !v.IsSet("mid360") {
		return Config{}, fmt.Errorf("sensor config %s has no MID360 section", path)
	}

	cfg := DefaultConfig()
	if err := v.UnmarshalKey("mid360", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode sensor config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid sensor config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ports are in range and addresses parse.
func (c Config) Validate() error {
	ports := map[string]int{
		"lidar cmd_data_port":   c.Lidar.CmdDataPort,
		"lidar point_data_port": c.Lidar.PointDataPort,
		"lidar imu_data_port":   c.Lidar.IMUDataPort,
		"host cmd_data_port":    c.Host.CmdDataPort,
		"host point_data_port":  c.Host.PointDataPort,
		"host imu_data_port":    c.Host.IMUDataPort,
	}
	for name, p := range ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s out of range: %d", name, p)
		}
	}
	for name, ip := range map[string]string{
		"cmd_data_ip":   c.Host.CmdDataIP,
		"point_data_ip": c.Host.PointDataIP,
		"imu_data_ip":   c.Host.IMUDataIP,
	} {
		if ip != "" && net.ParseIP(ip) == nil {
			return fmt.Errorf("host %s is not an IP address: %q", name, ip)
		}
	}
	return nil
}

func udpAddr(ip string, port int) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, strconv.Itoa(port)))
}
