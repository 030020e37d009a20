package main

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lowlatency-exchange/common"
	"lowlatency-exchange/matching"
	"lowlatency-exchange/wire"
)

func main() {
	runId := uuid.NewString() // process-level label for this benchmark run only
	fmt.Printf("=== 交易所撮合系统性能测试 (run=%s) ===\n", runId)

	engine := matching.New(1<<20, 1<<20, 1<<16, common.MaxPriceLevels)
	go engine.Run()
	defer engine.Stop()

	testDuration := 5 * time.Second
	numCPU := runtime.NumCPU()
	numWorkers := numCPU - 2 // 1 个给撮合线程，1 个给系统/GC
	if numWorkers < 1 {
		numWorkers = 1
	}

	var (
		orderCount  atomic.Int64
		filledCount atomic.Int64
	)

	// 消费 client responses
	go func() {
		responses := engine.ClientResponses()
		for {
			slot := responses.ReadSlot()
			if slot == nil {
				runtime.Gosched()
				continue
			}
			if slot.Type == wire.ResponseFilled {
				filledCount.Add(1)
			}
			responses.CommitRead()
		}
	}()
	// 丢弃 market updates，避免出站队列溢出
	go func() {
		updates := engine.MarketUpdates()
		for {
			if slot := updates.ReadSlot(); slot != nil {
				updates.CommitRead()
			} else {
				runtime.Gosched()
			}
		}
	}()

	fmt.Printf("开始测试...\n")
	fmt.Printf("CPU 核心数: %d\n", numCPU)
	fmt.Printf("生产者数量: %d (NumCPU - 2)\n", numWorkers)
	fmt.Printf("测试时长: %v\n\n", testDuration)

	startTime := time.Now()
	stopChan := make(chan struct{})

	// 启动多个生产者，直接写入撮合引擎的入站队列（跳过 TCP/排序器，用于测量撮合核心本身的吞吐）。
	for w := 0; w < numWorkers; w++ {
		go func(workerId uint32) {
			var orderId uint64
			for {
				select {
				case <-stopChan:
					return
				default:
					var side int8
					var price int64
					if orderId%2 == 0 {
						side = 1
						price = 50000 + int64(orderId%200)
					} else {
						side = -1
						price = 50000 + int64(orderId%200)
					}

					slot := engine.Ingress().WriteSlot()
					*slot = wire.ClientRequestEnvelope{
						Request: wire.ClientRequest{
							Type:          wire.RequestNew,
							ClientId:      workerId,
							TickerId:      0,
							ClientOrderId: orderId,
							Side:          side,
							Price:         price,
							Qty:           1,
						},
					}
					engine.Ingress().CommitWrite()
					orderCount.Add(1)
					orderId++
				}
			}
		}(uint32(w))
	}

	ticker := time.NewTicker(1 * time.Second)
	go func() {
		for range ticker.C {
			elapsed := time.Since(startTime)
			orders := orderCount.Load()
			filled := filledCount.Load()
			qps := float64(orders) / elapsed.Seconds()
			fps := float64(filled) / elapsed.Seconds()
			fmt.Printf("[%.0fs] 订单: %d (%.0f/s) | 成交响应: %d (%.0f/s)\n",
				elapsed.Seconds(), orders, qps, filled, fps)
		}
	}()

	time.Sleep(testDuration)
	close(stopChan)
	ticker.Stop()
	time.Sleep(500 * time.Millisecond)

	elapsed := time.Since(startTime)
	totalOrders := orderCount.Load()
	totalFilled := filledCount.Load()

	qps := float64(totalOrders) / elapsed.Seconds()
	fps := float64(totalFilled) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() * 1e6 / float64(totalOrders)

	fmt.Println("\n=== 性能测试结果 ===")
	fmt.Printf("测试时长:     %v\n", elapsed)
	fmt.Printf("总订单数:     %d\n", totalOrders)
	fmt.Printf("总成交响应数: %d\n", totalFilled)
	fmt.Printf("订单吞吐量:   %.0f orders/sec\n", qps)
	fmt.Printf("成交响应吞吐量: %.0f fills/sec\n", fps)
	fmt.Printf("平均延迟:     %.2f μs/order\n", avgLatency)

	fmt.Println("\n=== 性能评级 ===")
	switch {
	case qps >= 1000000:
		fmt.Println("极致性能 (>100万 QPS)")
	case qps >= 500000:
		fmt.Println("优秀性能 (50万-100万 QPS)")
	case qps >= 100000:
		fmt.Println("良好性能 (10万-50万 QPS)")
	case qps >= 10000:
		fmt.Println("合格性能 (1万-10万 QPS)")
	default:
		fmt.Println("性能较低 (<1万 QPS)")
	}

	book := engine.Book(0)
	fmt.Println("\n=== 订单簿状态 ===")
	fmt.Printf("最佳买价:     %d\n", book.BestBid())
	fmt.Printf("最佳卖价:     %d\n", book.BestAsk())
}
