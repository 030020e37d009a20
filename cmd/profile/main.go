package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"lowlatency-exchange/common"
	"lowlatency-exchange/matching"
	"lowlatency-exchange/wire"
)

func main() {
	cpuFile, err := os.Create("cpu.prof")
	if err != nil {
		panic(err)
	}
	defer cpuFile.Close()

	pprof.StartCPUProfile(cpuFile)
	defer pprof.StopCPUProfile()

	fmt.Println("=== 性能分析开始 ===")
	fmt.Println("生成 CPU profile: cpu.prof")

	engine := matching.New(1<<20, 1<<20, 1<<16, common.MaxPriceLevels)
	go engine.Run()
	defer engine.Stop()

	duration := 10 * time.Second
	numCPU := runtime.NumCPU()
	numWorkers := numCPU - 2
	if numWorkers < 1 {
		numWorkers = 1
	}

	var (
		orderCount  atomic.Int64
		filledCount atomic.Int64
	)

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

	fmt.Printf("CPU 核心数: %d\n", numCPU)
	fmt.Printf("生产者数量: %d\n", numWorkers)
	fmt.Printf("测试时长: %v\n\n", duration)

	startTime := time.Now()
	stopChan := make(chan struct{})

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

	time.Sleep(duration)
	close(stopChan)
	time.Sleep(500 * time.Millisecond)

	elapsed := time.Since(startTime)
	totalOrders := orderCount.Load()
	totalFilled := filledCount.Load()

	fmt.Println("\n=== 性能测试结果 ===")
	fmt.Printf("总订单数: %d\n", totalOrders)
	fmt.Printf("总成交响应数: %d\n", totalFilled)
	fmt.Printf("Order QPS: %.0f orders/sec\n", float64(totalOrders)/elapsed.Seconds())
	fmt.Printf("Fill RPS: %.0f fills/sec\n", float64(totalFilled)/elapsed.Seconds())

	fmt.Println("\n分析 CPU profile:")
	fmt.Println("  go tool pprof -http=:8080 cpu.prof")
	fmt.Println("  或者: go tool pprof cpu.prof")
	fmt.Println("  然后输入: top10  (查看前 10 个热点函数)")
	fmt.Println("  然后输入: list <函数名>  (查看具体代码)")
}
