package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// --- Configuration ScyllaDB ---
type ScyllaKeyspaceConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	SSLEnabled  bool
	CACertPath  string
	Timeout     time.Duration
	NumConns    int
	Consistency gocql.Consistency
}

// Rôles logiques des keyspaces. Les noms réels viennent de l'environnement.
const (
	KeyspaceOrders   = "orders"
	KeyspaceProducts = "products"
	KeyspaceUsers    = "users"
)

type ScyllaManager struct {
	sessions map[string]*gocql.Session // keyspace → session
	configs  map[string]ScyllaKeyspaceConfig
	names    map[string]string // rôle → nom du keyspace
	mu       sync.Mutex
	log      *zap.Logger
}

// NewScyllaManager ouvre une session par keyspace configuré.
func NewScyllaManager(log *zap.Logger) (*ScyllaManager, error) {
	configs, names := loadScyllaConfigs()
	sm := &ScyllaManager{
		sessions: make(map[string]*gocql.Session),
		configs:  configs,
		names:    names,
		log:      log,
	}

	for _, role := range []string{KeyspaceOrders, KeyspaceProducts, KeyspaceUsers} {
		if _, err := sm.Session(role); err != nil {
			return nil, fmt.Errorf("échec initialisation keyspace %s: %w", role, err)
		}
	}

	// Les tables sont créées via scripts/scylladb_init.cql
	return sm, nil
}

// loadScyllaConfigs charge les configurations depuis .env
func loadScyllaConfigs() (map[string]ScyllaKeyspaceConfig, map[string]string) {
	configs := make(map[string]ScyllaKeyspaceConfig)
	names := make(map[string]string)

	hosts := strings.Split(os.Getenv("SCYLLA_HOSTS"), ",")
	sslEnabled := strings.ToLower(os.Getenv("SCYLLA_SSL_ENABLED")) == "true"
	caPath := os.Getenv("SCYLLA_SSL_CA_PATH")

	for role, prefix := range map[string]string{
		KeyspaceOrders:   "SCYLLA_KS_ORDERS",
		KeyspaceProducts: "SCYLLA_KS_PRODUCTS",
		KeyspaceUsers:    "SCYLLA_KS_USERS",
	} {
		ks := os.Getenv(prefix + "_KEYSPACE")
		if ks == "" {
			continue
		}
		names[role] = ks
		configs[ks] = ScyllaKeyspaceConfig{
			Hosts:      hosts,
			Keyspace:   ks,
			Username:   os.Getenv(prefix + "_ROLE"),
			Password:   os.Getenv(prefix + "_PASSWORD"),
			SSLEnabled: sslEnabled,
			CACertPath: caPath,
			Timeout:    5 * time.Second,
			NumConns:   20,
			// LWT (IF ...) passe par Paxos; la lecture série est configurée sur le cluster.
			Consistency: gocql.Quorum,
		}
	}

	return configs, names
}

// createScyllaCluster crée une configuration de cluster pour un keyspace
func createScyllaCluster(config ScyllaKeyspaceConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = config.Consistency
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = config.Timeout
	cluster.NumConns = config.NumConns
	cluster.MaxWaitSchemaAgreement = 30 * time.Second
	cluster.ReconnectInterval = 1 * time.Second
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: config.Username,
		Password: config.Password,
	}

	if config.SSLEnabled && config.CACertPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 config.CACertPath,
			EnableHostVerification: true,
		}
	}

	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster
}

// Session retourne la session d'un rôle de keyspace (orders, products, users).
func (sm *ScyllaManager) Session(role string) (*gocql.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	keyspace, ok := sm.names[role]
	if !ok {
		return nil, fmt.Errorf("keyspace '%s' non configuré", role)
	}
	config := sm.configs[keyspace]

	if session, exists := sm.sessions[keyspace]; exists && !session.Closed() {
		return session, nil
	}

	session, err := createScyllaCluster(config).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("erreur création session pour %s: %w", keyspace, err)
	}

	sm.sessions[keyspace] = session
	sm.log.Info("✅ Nouvelle session ScyllaDB",
		zap.String("keyspace", keyspace), zap.String("role", config.Username))
	return session, nil
}

// MustSession est utilisé au démarrage, quand une session manquante est fatale.
func (sm *ScyllaManager) MustSession(role string) *gocql.Session {
	s, err := sm.Session(role)
	if err != nil {
		panic(err)
	}
	return s
}

// Ping vérifie chaque session ouverte.
func (sm *ScyllaManager) Ping(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for ks, s := range sm.sessions {
		if err := s.Query("SELECT now() FROM system.local").WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("keyspace %s: %w", ks, err)
		}
	}
	return nil
}

// Close ferme toutes les sessions ScyllaDB
func (sm *ScyllaManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for keyspace, session := range sm.sessions {
		session.Close()
		sm.log.Info("🔌 Session ScyllaDB fermée", zap.String("keyspace", keyspace))
	}
}
