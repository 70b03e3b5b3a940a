// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore / RedisCounterStore / FallbackCounterStore: CounterStore
//   - Store: token bucket por chave usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore / PrometheusStatsStore: estatísticas das guardas
//   - MinioObjects: bytes e URLs pré-assinadas em object storage S3
//   - PostgresAssets: leitura dos registros de propriedade de assets
package infra
