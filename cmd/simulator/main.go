package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/charge-point-simulator/internal/chargepoint"
	"github.com/charging-platform/charge-point-simulator/internal/config"
	"github.com/charging-platform/charge-point-simulator/internal/domain/events"
	"github.com/charging-platform/charge-point-simulator/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-simulator/internal/logger"
	"github.com/charging-platform/charge-point-simulator/internal/message"
	"github.com/charging-platform/charge-point-simulator/internal/storage"
	"github.com/charging-platform/charge-point-simulator/internal/transport/ocpp"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: time.RFC3339,
		Async:      cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("Logger initialized")

	// 3. 初始化事件总线
	bus := events.NewBus(log)

	// 4. 初始化场景存储
	repository, err := newRepository(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize scenario storage: %v", err)
	}
	log.Infof("Scenario storage initialized (store: %s)", cfg.Scenario.Store)

	// 5. 可选的Kafka事件发布器
	var publisher *message.KafkaPublisher
	if cfg.Kafka.Enabled {
		publisher, err = message.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.ChargePoint.ID, bus, log)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka publisher: %v", err)
		}
		log.Infof("Kafka publisher initialized with brokers: %v, topic: %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	// 6. 初始化OCPP客户端与充电桩聚合
	//
	// 客户端需要指令处理器，充电桩需要协议服务，二者相互依赖；
	// 先建客户端（handler稍后注入），再建充电桩。
	clientConfig := ocpp.DefaultConfig()
	clientConfig.URL = cfg.CentralSystem.URL
	clientConfig.ChargePointID = cfg.ChargePoint.ID
	clientConfig.HandshakeTimeout = cfg.CentralSystem.ConnectTimeout
	clientConfig.CallTimeout = cfg.CentralSystem.CallTimeout
	clientConfig.PingInterval = cfg.CentralSystem.PingInterval
	clientConfig.Vendor = cfg.ChargePoint.Vendor
	clientConfig.Model = cfg.ChargePoint.Model

	cp, client := wire(cfg, clientConfig, bus, log)
	log.Infof("Charge point %s initialized with %d connectors", cp.ID(), cfg.ChargePoint.ConnectorCount)

	// 7. 连接中央系统并发送启动通知
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.CentralSystem.ConnectTimeout)
	if err := client.Connect(connectCtx); err != nil {
		cancelConnect()
		log.Fatalf("Failed to connect to central system: %v", err)
	}
	cancelConnect()

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), cfg.CentralSystem.CallTimeout)
	conf, err := client.SendBootNotification(bootCtx)
	cancelBoot()
	if err != nil {
		log.Errorf("Boot notification failed: %v", err)
	} else {
		log.Infof("Boot notification accepted, heartbeat interval: %ds", conf.Interval)
	}

	// 8. 加载场景定义
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	defs, err := repository.Load(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatalf("Failed to load scenarios: %v", err)
	}
	cp.LoadScenarios(defs)
	log.Infof("Loaded %d scenario definitions", len(defs))

	// 9. 启动监控服务器
	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.GetMetricsAddr(), log)
		log.Infof("Metrics server starting on %s...", cfg.GetMetricsAddr())
	}

	log.Info("Charge point simulator started successfully")

	// 10. 监听并处理优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down simulator...")

	// 按顺序执行清理操作
	cp.Close()
	log.Info("Charge point closed")

	client.Close()
	log.Info("OCPP client closed")

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Errorf("Error closing Kafka publisher: %v", err)
		}
		log.Info("Kafka publisher closed")
	}

	log.Info("Simulator shutdown completed")
}

// wire 组装充电桩与OCPP客户端的相互引用
func wire(cfg *config.Config, clientConfig *ocpp.Config, bus *events.Bus, log *logger.Logger) (*chargepoint.ChargePoint, *ocpp.Client) {
	var cp *chargepoint.ChargePoint
	client := ocpp.NewClient(clientConfig, handlerFunc(func() ocpp.CommandHandler { return cp }), log)
	cp = chargepoint.New(chargepoint.Config{
		ID:             cfg.ChargePoint.ID,
		ConnectorCount: cfg.ChargePoint.ConnectorCount,
		InitialMeterWh: cfg.ChargePoint.InitialMeterWh,
		DefaultIdTag:   cfg.ChargePoint.DefaultIdTag,
	}, client, bus, log)
	return cp, client
}

// handlerFunc 延迟解析指令处理器，打破客户端与充电桩的构造环
type handlerFunc func() ocpp.CommandHandler

func (f handlerFunc) HandleRemoteStart(req *ocpp16.RemoteStartTransactionRequest) ocpp16.RemoteCommandStatus {
	return f().HandleRemoteStart(req)
}

func (f handlerFunc) HandleRemoteStop(req *ocpp16.RemoteStopTransactionRequest) ocpp16.RemoteCommandStatus {
	return f().HandleRemoteStop(req)
}

func (f handlerFunc) HandleReserveNow(req *ocpp16.ReserveNowRequest) ocpp16.RemoteCommandStatus {
	return f().HandleReserveNow(req)
}

func (f handlerFunc) HandleCancelReservation(req *ocpp16.CancelReservationRequest) ocpp16.RemoteCommandStatus {
	return f().HandleCancelReservation(req)
}

func (f handlerFunc) HandleChangeAvailability(req *ocpp16.ChangeAvailabilityRequest) ocpp16.RemoteCommandStatus {
	return f().HandleChangeAvailability(req)
}

// newRepository 按配置选择场景存储实现
func newRepository(cfg *config.Config, log *logger.Logger) (storage.ScenarioRepository, error) {
	switch cfg.Scenario.Store {
	case "memory", "":
		return storage.NewMemoryRepository(), nil
	case "file":
		return storage.NewFileRepository(cfg.Scenario.Directory, log)
	case "redis":
		return storage.NewRedisRepository(storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, cfg.ChargePoint.ID, log)
	default:
		return nil, fmt.Errorf("unknown scenario store: %s", cfg.Scenario.Store)
	}
}

// startMetricsServer 启动Prometheus指标服务器
func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Metrics server failed: %v", err)
	}
}
