package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStater is satisfied by *pgxpool.Pool.
type poolStater interface {
	Stat() *pgxpool.Stat
}

// PoolCollector exports pgx pool statistics.
type PoolCollector struct {
	pool     poolStater
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
}

// NewPoolCollector creates a collector for pool.
func NewPoolCollector(pool poolStater) *PoolCollector {
	return &PoolCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("sslshop_db_acquired_conns", "Connections currently acquired from the pool.", nil, nil),
		idle:     prometheus.NewDesc("sslshop_db_idle_conns", "Idle connections in the pool.", nil, nil),
		total:    prometheus.NewDesc("sslshop_db_total_conns", "Total connections in the pool.", nil, nil),
		max:      prometheus.NewDesc("sslshop_db_max_conns", "Maximum pool size.", nil, nil),
		waits:    prometheus.NewDesc("sslshop_db_empty_acquire_total", "Acquires that had to wait for a connection.", nil, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.waits
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}

// RegisterPool registers pool statistics with the default registry.
func RegisterPool(pool *pgxpool.Pool) {
	prometheus.MustRegister(NewPoolCollector(pool))
}
