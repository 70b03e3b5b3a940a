// Package ratelimit fornece os adapters HTTP (net/http) das guardas de volume.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (sem net/http)
//   - application: decisões (token bucket, janela fixa, vagas de download) sem net/http
//   - infra: implementações concretas (x/time/rate, Redis, memória, semáforo)
//   - ratelimit (este pacote): middlewares + extração de chave + tradução para status/headers
//
// Três middlewares:
//
//  1. Middleware: token bucket por IP, contra rajadas (429)
//  2. WindowMiddleware: orçamento por ação e principal em janela fixa (429 + Retry-After)
//  3. ConcurrencyMiddleware: teto de requisições simultâneas (503)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_LIMITS, RATE_ROUTES, DOWNLOAD_RPS, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
